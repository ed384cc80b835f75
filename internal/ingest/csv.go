package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/geolift/internal/model"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter rune   // default ','
	Comment   rune   // comment character (0 = none)
	Charset   string // input encoding, e.g. "windows-1252" (default UTF-8)
}

func decodeCharset(r io.Reader, charset string) (io.Reader, error) {
	if charset == "" {
		return r, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(r), nil
}

// StreamCSV reads CSV records and sends them on the returned channel with
// their 1-based line numbers. Both channels are closed when reading
// completes; at most one error is sent.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Record, <-chan error) {
	rowCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		in, err := decodeCharset(r, opts.Charset)
		if err != nil {
			errCh <- err
			return
		}

		reader := csv.NewReader(in)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.Comment = opts.Comment
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			fields, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			line, _ := reader.FieldPos(0)

			select {
			case rowCh <- Record{Line: line, Fields: fields}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// Record is one parsed row.
type Record struct {
	Line   int
	Fields []string
}

// ReadCSV reads regions from CSV. The first row is the header.
func ReadCSV(ctx context.Context, r io.Reader, opts Options) ([]model.Region, error) {
	rows, errs := StreamCSV(ctx, r, opts.CSV)

	var (
		m       *mapper
		regions []model.Region
	)
	for rec := range rows {
		if m == nil {
			if len(rec.Fields) > 0 {
				rec.Fields[0] = strings.TrimPrefix(rec.Fields[0], "\ufeff")
			}
			var err error
			if m, err = newMapper(rec.Fields, opts); err != nil {
				drain(rows)
				return nil, err
			}
			continue
		}
		if blank(rec.Fields) {
			continue
		}
		region, err := m.region(rec.Fields, rec.Line)
		if err != nil {
			drain(rows)
			return nil, err
		}
		regions = append(regions, region)
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrap(err, "ingest: read csv")
	}
	if m == nil {
		return nil, eris.New("ingest: csv is empty")
	}
	return regions, nil
}

// ReadCSVFile is ReadCSV for a path.
func ReadCSVFile(ctx context.Context, path string, opts Options) ([]model.Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadCSV(ctx, f, opts)
}

func drain(ch <-chan Record) {
	for range ch {
	}
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
