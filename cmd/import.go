package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geolift/internal/ingest"
	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/schema"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import regions from CSV, XLSX or shapefile into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		files, _ := cmd.Flags().GetStringSlice("file")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		opts, err := importOptions(cmd)
		if err != nil {
			return err
		}

		regions, err := ingest.ReadFiles(ctx, files, opts, 4)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		if dryRun {
			_, _ = printer.Fprintf(os.Stdout, "%d regions parsed from %d files (dry run, nothing written)\n", len(regions), len(files))
			return nil
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertRegions(ctx, regions)
		if err != nil {
			return eris.Wrap(err, "import: upsert regions")
		}

		zap.L().Info("import complete",
			zap.Strings("files", files),
			zap.Int("parsed", len(regions)),
			zap.Int64("changed", n),
		)
		_, _ = printer.Fprintf(os.Stdout, "%d of %d regions inserted or changed\n", n, len(regions))
		return nil
	},
}

func importOptions(cmd *cobra.Command) (ingest.Options, error) {
	f := cmd.Flags()
	regionType, _ := f.GetString("type")
	source, _ := f.GetString("source")
	derive, _ := f.GetBool("derive-urbanicity")
	charset, _ := f.GetString("charset")
	sheet, _ := f.GetString("sheet")

	t := defaultRegionType(regionType)
	if !t.Valid() {
		return ingest.Options{}, eris.Errorf("unknown region type %q", t)
	}

	opts := ingest.Options{
		RegionType:       t,
		Source:           source,
		DeriveUrbanicity: derive,
		CSV:              ingest.CSVOptions{Charset: charset},
		XLSX:             ingest.XLSXOptions{SheetName: sheet},
	}
	if cfg.Engine.SchemaPath != "" {
		s, err := schema.Load(cfg.Engine.SchemaPath)
		if err != nil {
			return ingest.Options{}, err
		}
		opts.Schema = s
	}
	return opts, nil
}

func init() {
	f := importCmd.Flags()
	f.StringSlice("file", nil, "path to a .csv, .tsv, .xlsx or .shp file (repeatable, required)")
	f.String("type", "", "region type for rows without a type column (default from config)")
	f.String("source", model.SourceUserUploaded, "provenance tag for rows without a source column")
	f.Bool("derive-urbanicity", false, "derive urbanicity from populationDensity when missing")
	f.String("charset", "", "CSV input encoding, e.g. windows-1252 (default UTF-8)")
	f.String("sheet", "", "XLSX sheet name (default first sheet)")
	f.Bool("dry-run", false, "parse and validate without writing")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
