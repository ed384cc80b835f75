// Package ingest reads region files (CSV, XLSX, shapefile) into
// model.Region values, mapping columns onto schema variables.
package ingest

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolift/internal/geo"
	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/schema"
)

// Reserved column names. Every other column is matched against the schema.
const (
	ColID         = "id"
	ColName       = "name"
	ColType       = "type"
	ColPopulation = "population"
	ColLatitude   = "latitude"
	ColLongitude  = "longitude"
	ColSource     = "source"
)

// Options controls how rows become regions.
type Options struct {
	// Schema recognises profile columns. nil selects
	// schema.ForMarket(RegionType).
	Schema *schema.Schema
	// RegionType applies to rows without a type column. Default zip.
	RegionType model.RegionType
	// Source applies to rows without a source column. Default user-uploaded.
	Source string
	// DeriveUrbanicity fills a missing urbanicity value from
	// populationDensity when the schema has both variables.
	DeriveUrbanicity bool
	// CSV configures delimiter and charset for ReadCSV.
	CSV CSVOptions
	// XLSX selects the sheet for ReadFile.
	XLSX XLSXOptions
}

func (o Options) withDefaults() Options {
	if o.RegionType == "" {
		o.RegionType = model.RegionTypeZIP
	}
	if o.Schema == nil {
		o.Schema = schema.ForMarket(o.RegionType)
	}
	if o.Source == "" {
		o.Source = model.SourceUserUploaded
	}
	return o
}

// mapper converts rows of one file under a fixed header.
type mapper struct {
	opts     Options
	reserved map[string]int
	vars     map[int]schema.Variable
}

// columnKey folds a header for matching: case, spaces, dashes and
// underscores are ignored, so "Median_Income" matches "medianIncome".
func columnKey(s string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
}

func newMapper(header []string, opts Options) (*mapper, error) {
	opts = opts.withDefaults()
	m := &mapper{
		opts:     opts,
		reserved: make(map[string]int),
		vars:     make(map[int]schema.Variable),
	}

	byKey := make(map[string]schema.Variable, opts.Schema.Len())
	for _, v := range opts.Schema.Variables() {
		byKey[columnKey(v.Name)] = v
	}
	reserved := map[string]string{}
	for _, c := range []string{ColID, ColName, ColType, ColPopulation, ColLatitude, ColLongitude, ColSource} {
		reserved[columnKey(c)] = c
	}
	// Common aliases.
	reserved["lat"] = ColLatitude
	reserved["lon"] = ColLongitude
	reserved["lng"] = ColLongitude

	var unmapped []string
	for i, h := range header {
		key := columnKey(h)
		if col, ok := reserved[key]; ok {
			m.reserved[col] = i
			continue
		}
		if v, ok := byKey[key]; ok {
			m.vars[i] = v
			continue
		}
		if key != "" {
			unmapped = append(unmapped, h)
		}
	}

	if _, ok := m.reserved[ColID]; !ok {
		return nil, eris.Errorf("ingest: header has no %q column", ColID)
	}
	if len(unmapped) > 0 {
		zap.L().Debug("ingest: ignoring unmapped columns",
			zap.String("schema", opts.Schema.Name()),
			zap.Strings("columns", unmapped),
		)
	}
	return m, nil
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func (m *mapper) get(record []string, col string) string {
	idx, ok := m.reserved[col]
	if !ok {
		return ""
	}
	return cell(record, idx)
}

// region converts one record. line is used in error messages only.
func (m *mapper) region(record []string, line int) (model.Region, error) {
	r := model.Region{
		ID:      m.get(record, ColID),
		Name:    m.get(record, ColName),
		Type:    m.opts.RegionType,
		Source:  m.opts.Source,
		Profile: model.Profile{},
	}
	if r.ID == "" {
		return model.Region{}, eris.Errorf("ingest: line %d: empty id", line)
	}
	if t := m.get(record, ColType); t != "" {
		r.Type = model.RegionType(strings.ToLower(t))
		if !r.Type.Valid() {
			return model.Region{}, eris.Errorf("ingest: line %d: unknown region type %q", line, t)
		}
	}
	if s := m.get(record, ColSource); s != "" {
		r.Source = s
	}

	if s := m.get(record, ColPopulation); s != "" {
		f, err := parseNumber(s)
		if err != nil {
			return model.Region{}, eris.Wrapf(err, "ingest: line %d: population", line)
		}
		pop := int64(f)
		r.Population = &pop
	}
	for col, dst := range map[string]**float64{ColLatitude: &r.Latitude, ColLongitude: &r.Longitude} {
		if s := m.get(record, col); s != "" {
			f, err := parseNumber(s)
			if err != nil {
				return model.Region{}, eris.Wrapf(err, "ingest: line %d: %s", line, col)
			}
			*dst = &f
		}
	}

	for idx, v := range m.vars {
		s := cell(record, idx)
		if s == "" {
			continue
		}
		if v.Kind == schema.KindCategorical {
			val := model.Cat(strings.ToLower(s))
			if _, err := schema.Normalize(val, v); err != nil {
				return model.Region{}, eris.Wrapf(err, "ingest: line %d: %s", line, v.Name)
			}
			r.Profile[v.Name] = val
			continue
		}
		f, err := parseNumber(s)
		if err != nil {
			return model.Region{}, eris.Wrapf(err, "ingest: line %d: %s", line, v.Name)
		}
		r.Profile[v.Name] = model.Num(f)
	}

	if m.opts.DeriveUrbanicity {
		m.deriveUrbanicity(r.Profile)
	}
	return r, nil
}

func (m *mapper) deriveUrbanicity(p model.Profile) {
	if _, ok := p[schema.VarUrbanicity]; ok {
		return
	}
	if _, ok := m.opts.Schema.Lookup(schema.VarUrbanicity); !ok {
		return
	}
	density, ok := p[schema.VarPopulationDensity]
	if !ok || density.IsCategorical() {
		return
	}
	p[schema.VarUrbanicity] = model.Cat(geo.Classify(density.Float()))
}

// parseNumber accepts plain numbers plus thousands separators, a leading
// currency sign and a trailing percent sign ("$67,000", "42.5%"). NaN and
// infinities are rejected.
func parseNumber(s string) (float64, error) {
	clean := strings.NewReplacer(",", "", "$", "", "%", "").Replace(s)
	f, err := strconv.ParseFloat(strings.TrimSpace(clean), 64)
	if err != nil {
		return 0, eris.Errorf("not a number: %q", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, eris.Errorf("not a finite number: %q", s)
	}
	return f, nil
}
