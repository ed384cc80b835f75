package schema

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geolift/internal/model"
)

func TestNormalize_Continuous(t *testing.T) {
	income := Variable{Name: "medianIncome", Weight: 0.15, Kind: KindContinuous, Min: 20_000, Max: 200_000}

	tests := []struct {
		name  string
		value float64
		want  float64
	}{
		{"at min", 20_000, 0},
		{"at max", 200_000, 1},
		{"below min clamps", 5_000, 0},
		{"above max clamps", 450_000, 1},
		{"target scenario", 67_000, 0.2611},
		{"candidate scenario", 125_000, 0.5833},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(model.Num(tt.value), income)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.0001)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestNormalize_ContinuousSquaredDifference(t *testing.T) {
	income := Variable{Name: "medianIncome", Kind: KindContinuous, Min: 20_000, Max: 200_000}

	a, err := Normalize(model.Num(67_000), income)
	require.NoError(t, err)
	b, err := Normalize(model.Num(125_000), income)
	require.NoError(t, err)

	// (58000/180000)^2
	assert.InDelta(t, 0.1038, math.Pow(b-a, 2), 0.0001)
}

func TestNormalize_Percentage(t *testing.T) {
	pct := Variable{Name: "collegeEducated", Kind: KindPercentage}

	tests := []struct {
		name  string
		value float64
		want  float64
	}{
		{"zero", 0, 0},
		{"hundred", 100, 1},
		{"typical", 34.5, 0.345},
		{"below range passes through", -10, -0.1},
		{"above range passes through", 130, 1.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(model.Num(tt.value), pct)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.000001)
		})
	}
}

func TestNormalize_Categorical(t *testing.T) {
	urb := Variable{Name: "urbanicity", Kind: KindCategorical, Categories: []string{"rural", "suburban", "urban"}}

	tests := []struct {
		value string
		want  float64
	}{
		{"rural", 0},
		{"suburban", 0.5},
		{"urban", 1},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := Normalize(model.Cat(tt.value), urb)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.000001)
		})
	}

	t.Run("unknown category", func(t *testing.T) {
		_, err := Normalize(model.Cat("exurban"), urb)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrUnknownCategory))
		assert.Contains(t, err.Error(), "exurban")
	})

	t.Run("numeric value for categorical variable", func(t *testing.T) {
		_, err := Normalize(model.Num(2), urb)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrUnknownCategory))
		assert.Contains(t, err.Error(), "urbanicity")
	})
}

func TestNormalize_CategoryForNumericVariable(t *testing.T) {
	for _, kind := range []Kind{KindContinuous, KindPercentage} {
		t.Run(string(kind), func(t *testing.T) {
			v := Variable{Name: "x", Kind: kind, Min: 0, Max: 10}
			_, err := Normalize(model.Cat("high"), v)
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrValueKind))
		})
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		vars    []Variable
		wantErr string
	}{
		{"empty", nil, "no variables defined"},
		{"missing name", []Variable{{Kind: KindPercentage}}, "has no name"},
		{"duplicate", []Variable{
			{Name: "a", Kind: KindPercentage},
			{Name: "a", Kind: KindPercentage},
		}, "defined more than once"},
		{"negative weight", []Variable{{Name: "a", Weight: -0.1, Kind: KindPercentage}}, "weight must be >= 0"},
		{"bad range", []Variable{{Name: "a", Kind: KindContinuous, Min: 10, Max: 10}}, "max must be > min"},
		{"one category", []Variable{{Name: "a", Kind: KindCategorical, Categories: []string{"x"}}}, "at least 2 categories"},
		{"repeated category", []Variable{{Name: "a", Kind: KindCategorical, Categories: []string{"x", "x"}}}, "twice"},
		{"unknown kind", []Variable{{Name: "a", Kind: "ordinal"}}, "unknown kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("test", tt.vars)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_CopiesInput(t *testing.T) {
	cats := []string{"rural", "urban"}
	vars := []Variable{{Name: "urbanicity", Weight: 0.1, Kind: KindCategorical, Categories: cats}}

	s, err := New("test", vars)
	require.NoError(t, err)

	vars[0].Weight = 0.9
	cats[0] = "frontier"

	v, ok := s.Lookup("urbanicity")
	require.True(t, ok)
	assert.InDelta(t, 0.1, v.Weight, 0.0001)
	assert.Equal(t, []string{"rural", "urban"}, v.Categories)

	out := s.Variables()
	out[0].Categories[0] = "mutated"
	v, _ = s.Lookup("urbanicity")
	assert.Equal(t, "rural", v.Categories[0])
}

func TestNew_DefaultLabel(t *testing.T) {
	s, err := New("test", []Variable{{Name: "broadband", Kind: KindPercentage}})
	require.NoError(t, err)
	assert.Equal(t, "Similar broadband", s.Label("broadband"))
	assert.Equal(t, "missing", s.Label("missing"))
}

func TestDefaultSchemas(t *testing.T) {
	zip := Default()
	assert.Equal(t, "zip", zip.Name())
	assert.Equal(t, 12, zip.Len())
	assert.InDelta(t, 1.0, zip.TotalWeight(), 0.0001)

	income, ok := zip.Lookup(VarMedianIncome)
	require.True(t, ok)
	assert.InDelta(t, 20_000, income.Min, 0.0001)
	assert.InDelta(t, 200_000, income.Max, 0.0001)

	dma := DMA()
	assert.Equal(t, "dma", dma.Name())
	assert.InDelta(t, 1.0, dma.TotalWeight(), 0.0001)
	_, ok = dma.Lookup(VarTVHouseholds)
	assert.True(t, ok)

	assert.Same(t, dma, ForMarket(model.RegionTypeDMA))
	assert.Same(t, zip, ForMarket(model.RegionTypeZIP))
	assert.Same(t, zip, ForMarket(model.RegionTypeCounty))
}

func TestSchemaNormalize(t *testing.T) {
	s := Default()

	got, err := s.Normalize(VarUrbanicity, model.Cat("suburban"))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 0.0001)

	_, err = s.Normalize("shoeSize", model.Num(9))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownVariable))
}

func TestSchemaValidate(t *testing.T) {
	s := Default()

	require.NoError(t, s.Validate(model.Profile{
		VarUrbanicity:   model.Cat("urban"),
		VarMedianIncome: model.Num(80_000),
		"extra":         model.Cat("ignored"),
	}))

	err := s.Validate(model.Profile{VarUrbanicity: model.Cat("metro")})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownCategory))
}

func TestLoad(t *testing.T) {
	doc := `
schema:
  name: regional
  variables:
    - name: medianIncome
      label: Similar income
      weight: 0.6
      kind: continuous
      min: 30000
      max: 150000
    - name: urbanicity
      weight: 0.4
      kind: categorical
      categories: [rural, suburban, urban]
`
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "regional", s.Name())
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "Similar income", s.Label("medianIncome"))
	assert.Equal(t, "Similar urbanicity", s.Label("urbanicity"))
	assert.Equal(t, "medianIncome", s.At(0).Name)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema: read")

	_, err = Parse([]byte("schema: [not, a, map"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse yaml")

	_, err = Parse([]byte("schema:\n  variables:\n    - name: a\n      kind: continuous\n      min: 5\n      max: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max must be > min")
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Marshal(DMA())
	require.NoError(t, err)

	s, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, DMA().Variables(), s.Variables())
	assert.Equal(t, "dma", s.Name())
}
