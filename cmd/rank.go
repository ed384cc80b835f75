package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geolift/internal/design"
	"github.com/sells-group/geolift/internal/provider"
	"github.com/sells-group/geolift/internal/similarity"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank control-region candidates for a target region",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req, format, err := rankRequest(cmd)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		plan, err := env.Planner.Plan(ctx, req)
		if err != nil {
			return eris.Wrap(err, "rank")
		}

		if plan.RunID != "" {
			zap.L().Info("match run saved", zap.String("run_id", plan.RunID))
		}
		if len(plan.Results) == 0 && format == formatTable {
			_, _ = printer.Fprintf(os.Stderr, "No candidates above the similarity threshold (pool of %d).\n", plan.PoolSize)
			return nil
		}
		return writeResults(os.Stdout, format, plan.Results)
	},
}

// rankRequest builds a planner request from flags. Unset rank flags are left
// zero so the planner applies the engine configuration.
func rankRequest(cmd *cobra.Command) (design.Request, string, error) {
	f := cmd.Flags()
	target, _ := f.GetString("target")
	regionType, _ := f.GetString("type")
	metric, _ := f.GetString("metric")
	exclude, _ := f.GetStringSlice("exclude")
	withinKM, _ := f.GetFloat64("exclude-within-km")
	maxResults, _ := f.GetInt("max-results")
	prefix, _ := f.GetString("prefix")
	sources, _ := f.GetStringSlice("source")
	assess, _ := f.GetBool("assess")
	save, _ := f.GetBool("save")
	format, _ := f.GetString("format")
	lift, _ := f.GetFloat64("lift")
	alpha, _ := f.GetFloat64("alpha")
	beta, _ := f.GetFloat64("beta")
	baseline, _ := f.GetFloat64("baseline")

	if metric == "" {
		metric = cfg.Engine.Metric
	}
	m, err := similarity.ParseMetric(metric)
	if err != nil {
		return design.Request{}, "", err
	}

	var minSim *float64
	if f.Changed("min-similarity") {
		v, _ := f.GetFloat64("min-similarity")
		minSim = &v
	}

	switch format {
	case formatTable, formatCSV, formatJSON:
	default:
		return design.Request{}, "", eris.Errorf("unknown output format %q (want table, csv or json)", format)
	}

	return design.Request{
		TargetID:   target,
		RegionType: defaultRegionType(regionType),
		Metric:     m,
		Rank: similarity.RankOptions{
			MinSimilarity:   minSim,
			MaxResults:      maxResults,
			ExcludeIDs:      exclude,
			ExcludeWithinKM: withinKM,
		},
		Filter: provider.PoolFilter{
			Sources:  sources,
			IDPrefix: prefix,
		},
		Assess: assess,
		Params: defaultParams(lift, alpha, beta, baseline),
		Save:   save,
	}, format, nil
}

func init() {
	f := rankCmd.Flags()
	f.String("target", "", "target region id (required)")
	f.String("type", "", "region type: zip, dma, county, state (default from config)")
	f.String("metric", "", "weighted_euclidean, cosine or simplified_mahalanobis (default from config)")
	f.Float64("min-similarity", 0, "drop candidates scoring below this (default from config)")
	f.Int("max-results", 0, "maximum candidates to return (default from config)")
	f.StringSlice("exclude", nil, "region ids to exclude from the pool")
	f.Float64("exclude-within-km", 0, "exclude candidates within this distance of the target (spillover buffer)")
	f.String("prefix", "", "only consider candidates whose id starts with this prefix")
	f.StringSlice("source", nil, "only consider candidates with these source tags")
	f.Bool("assess", false, "attach a significance assessment to each result")
	f.Float64("lift", 0, "expected relative lift (default from config)")
	f.Float64("alpha", 0, "significance level (default from config)")
	f.Float64("beta", 0, "type II error rate (default from config)")
	f.Float64("baseline", 0, "baseline conversion rate (default from config)")
	f.String("format", formatTable, "output format: table, csv or json")
	f.Bool("save", false, "persist the match run")
	_ = rankCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(rankCmd)
}
