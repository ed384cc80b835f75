package ingest

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geolift/internal/model"
)

// ReadFile reads regions from a .csv, .tsv, .xlsx or .shp file.
func ReadFile(ctx context.Context, path string, opts Options) ([]model.Region, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSVFile(ctx, path, opts)
	case ".tsv":
		opts.CSV.Delimiter = '\t'
		return ReadCSVFile(ctx, path, opts)
	case ".xlsx":
		return ReadXLSX(path, opts.XLSX, opts)
	case ".shp":
		return ReadShapefile(path, opts)
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}
}

// ReadFiles reads several files concurrently and returns their regions in
// argument order.
func ReadFiles(ctx context.Context, paths []string, opts Options, concurrency int) ([]model.Region, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	perFile := make([][]model.Region, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, path := range paths {
		g.Go(func() error {
			regions, err := ReadFile(gctx, path, opts)
			if err != nil {
				return err
			}
			zap.L().Debug("ingest: file read", zap.String("path", path), zap.Int("regions", len(regions)))
			perFile[i] = regions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.Region
	for _, regions := range perFile {
		out = append(out, regions...)
	}
	return out, nil
}
