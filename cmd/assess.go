package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/significance"
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Estimate power and duration for a target/candidate pairing",
	Long: "Assess a pairing given either two region ids (--target, --candidate) " +
		"or two raw populations (--pop-a, --pop-b). With --sample-size-only, " +
		"print the per-arm minimum sample size and exit.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		f := cmd.Flags()

		lift, _ := f.GetFloat64("lift")
		alpha, _ := f.GetFloat64("alpha")
		beta, _ := f.GetFloat64("beta")
		baseline, _ := f.GetFloat64("baseline")
		params := defaultParams(lift, alpha, beta, baseline)

		if only, _ := f.GetBool("sample-size-only"); only {
			n, err := significance.MinimumSampleSize(params.BaselineRate, params.ExpectedLift, params.Alpha, params.Beta)
			if err != nil {
				return err
			}
			_, err = printer.Fprintf(os.Stdout, "%d\n", n)
			return err
		}

		target, _ := f.GetString("target")
		candidate, _ := f.GetString("candidate")
		popA, _ := f.GetInt64("pop-a")
		popB, _ := f.GetInt64("pop-b")
		regionType, _ := f.GetString("type")
		asJSON, _ := f.GetBool("json")

		var (
			a   *model.SignificanceAssessment
			err error
		)
		switch {
		case target != "" && candidate != "":
			env, envErr := initEnv(ctx)
			if envErr != nil {
				return envErr
			}
			defer env.Close()

			t := defaultRegionType(regionType)
			tr, err := env.Regions.FetchRegion(ctx, target, t)
			if err != nil {
				return eris.Wrap(err, "assess: fetch target")
			}
			cr, err := env.Regions.FetchRegion(ctx, candidate, t)
			if err != nil {
				return eris.Wrap(err, "assess: fetch candidate")
			}
			a, err = significance.Assess(tr, cr, params)
			if err != nil {
				return err
			}
		case f.Changed("pop-a") && f.Changed("pop-b"):
			a, err = significance.AssessPopulations(popA, popB, params)
			if err != nil {
				return err
			}
		default:
			return eris.New("assess: provide --target and --candidate, or --pop-a and --pop-b")
		}

		if asJSON {
			return writeJSON(os.Stdout, a)
		}
		formatAssessment(os.Stdout, a)
		return nil
	},
}

func init() {
	f := assessCmd.Flags()
	f.String("target", "", "target region id")
	f.String("candidate", "", "candidate region id")
	f.String("type", "", "region type of both ids (default from config)")
	f.Int64("pop-a", 0, "target population")
	f.Int64("pop-b", 0, "candidate population")
	f.Float64("lift", 0, "expected relative lift (default from config)")
	f.Float64("alpha", 0, "significance level (default from config)")
	f.Float64("beta", 0, "type II error rate (default from config)")
	f.Float64("baseline", 0, "baseline conversion rate (default from config)")
	f.Bool("sample-size-only", false, "print only the per-arm minimum sample size")
	f.Bool("json", false, "print the assessment as JSON")
	rootCmd.AddCommand(assessCmd)
}
