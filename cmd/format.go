package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/significance"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatCSV   = "csv"
	formatJSON  = "json"
)

var printer = message.NewPrinter(language.English)

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeResults renders ranked results in the requested format.
func writeResults(out io.Writer, format string, results []model.SimilarityResult) error {
	switch format {
	case formatJSON:
		return writeJSON(out, results)
	case formatCSV:
		return writeResultsCSV(out, results)
	case formatTable, "":
		formatResultsTable(out, results)
		return nil
	default:
		return eris.Errorf("unknown output format %q (want table, csv or json)", format)
	}
}

// formatResultsTable writes a tabular list of results to w.
func formatResultsTable(out io.Writer, results []model.SimilarityResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tREGION\tNAME\tSCORE\tPOPULATION\tPOWER\tWEEKS\tCONFIDENCE\tREASONS")
	_, _ = fmt.Fprintln(w, "----\t------\t----\t-----\t----------\t-----\t-----\t----------\t-------")

	for i, r := range results {
		power, weeks, conf := "-", "-", "-"
		if a := r.Assessment; a != nil {
			power = fmt.Sprintf("%.2f", a.AchievedPower)
			weeks = strconv.Itoa(a.RecommendedDurationWeeks)
			conf = string(a.ConfidenceLevel)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%.3f\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			r.Region.ID,
			truncate(r.Region.Name, 24),
			r.Score,
			printer.Sprintf("%d", significance.Population(r.Region)),
			power,
			weeks,
			conf,
			strings.Join(r.MatchReasons, "; "),
		)
	}
	_ = w.Flush()
}

func writeResultsCSV(out io.Writer, results []model.SimilarityResult) error {
	w := csv.NewWriter(out)
	_ = w.Write([]string{"rank", "region_id", "name", "score", "population", "achieved_power", "duration_weeks", "confidence", "match_reasons"})
	for i, r := range results {
		var power, weeks, conf string
		if a := r.Assessment; a != nil {
			power = strconv.FormatFloat(a.AchievedPower, 'f', 4, 64)
			weeks = strconv.Itoa(a.RecommendedDurationWeeks)
			conf = string(a.ConfidenceLevel)
		}
		_ = w.Write([]string{
			strconv.Itoa(i + 1),
			r.Region.ID,
			r.Region.Name,
			strconv.FormatFloat(r.Score, 'f', 4, 64),
			strconv.FormatInt(significance.Population(r.Region), 10),
			power,
			weeks,
			conf,
			strings.Join(r.MatchReasons, "; "),
		})
	}
	w.Flush()
	return eris.Wrap(w.Error(), "write csv")
}

// formatAssessment writes a single assessment as aligned key/value lines.
func formatAssessment(out io.Writer, a *model.SignificanceAssessment) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Minimum sample size:\t%s per arm\n", printer.Sprintf("%d", a.MinimumSampleSize))
	_, _ = fmt.Fprintf(w, "Target population:\t%s\t%s\n", printer.Sprintf("%d", a.TargetPopulation), adequacy(a.SampleSizeAdequate.Target))
	_, _ = fmt.Fprintf(w, "Candidate population:\t%s\t%s\n", printer.Sprintf("%d", a.CandidatePopulation), adequacy(a.SampleSizeAdequate.Candidate))
	_, _ = fmt.Fprintf(w, "Achieved power:\t%.2f\n", a.AchievedPower)
	_, _ = fmt.Fprintf(w, "Recommended duration:\t%d weeks\n", a.RecommendedDurationWeeks)
	_, _ = fmt.Fprintf(w, "Confidence:\t%s\n", a.ConfidenceLevel)
	_ = w.Flush()
}

func adequacy(ok bool) string {
	if ok {
		return "adequate"
	}
	return "below minimum"
}

// formatRunsList writes a tabular list of match runs to w.
func formatRunsList(out io.Writer, runs []model.MatchRunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTARGET\tTYPE\tMETRIC\tRESULTS\tTOP\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t------\t-------\t---\t-------")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.3f\t%s\n",
			truncateID(r.ID),
			r.TargetID,
			r.RegionType,
			r.Metric,
			r.ResultCount,
			r.TopScore,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
