package ingest

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/geolift/internal/model"
)

// ReadShapefile reads regions from a shapefile's attribute table. DBF field
// names are matched like CSV headers (10-character DBF names such as
// "MEDIANINCO" need an exact schema match or a CSV instead). Polygon
// records without latitude/longitude attributes get their centroid.
func ReadShapefile(path string, opts Options) ([]model.Region, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = strings.TrimRight(f.String(), "\x00")
	}

	m, err := newMapper(header, opts)
	if err != nil {
		return nil, err
	}

	var (
		regions  []model.Region
		noCenter int
	)
	for reader.Next() {
		n, shape := reader.Shape()

		record := make([]string, len(fields))
		for i := range fields {
			record[i] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		}
		if blank(record) {
			continue
		}

		r, err := m.region(record, n+1)
		if err != nil {
			return nil, err
		}

		if !r.HasCoordinates() {
			if lon, lat, ok := centroid(shape); ok {
				r.Longitude, r.Latitude = &lon, &lat
			} else {
				noCenter++
			}
		}
		regions = append(regions, r)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "ingest: read shapefile %s", path)
	}

	if noCenter > 0 {
		zap.L().Debug("ingest: shapefile records without centroid", zap.Int("count", noCenter))
	}
	return regions, nil
}

// centroid returns the area-weighted centroid of a polygon shape, or the
// point itself for point shapes.
func centroid(shape shp.Shape) (lon, lat float64, ok bool) {
	switch s := shape.(type) {
	case *shp.Point:
		return s.X, s.Y, true
	case *shp.Polygon:
		mp := polygonToMultiPolygon(s)
		if mp == nil {
			return 0, 0, false
		}
		c, err := xy.Centroid(mp)
		if err != nil {
			zap.L().Debug("ingest: centroid failed", zap.Error(err))
			return 0, 0, false
		}
		return c.X(), c.Y(), true
	}
	return 0, 0, false
}

// polygonToMultiPolygon converts a shapefile polygon to a geom.MultiPolygon,
// one polygon per ring.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("ingest: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("ingest: skipping malformed polygon", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
