// Package schema defines the immutable catalogue of demographic variables the
// similarity engine knows how to compare, with one normalization rule per
// variable.
package schema

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geolift/internal/model"
)

// Kind is the value type of a variable.
type Kind string

const (
	KindContinuous  Kind = "continuous"
	KindPercentage  Kind = "percentage"
	KindCategorical Kind = "categorical"
)

// Sentinel errors. Callers match with eris.Is.
var (
	ErrUnknownCategory = eris.New("schema: unknown category")
	ErrUnknownVariable = eris.New("schema: unknown variable")
	ErrValueKind       = eris.New("schema: value kind does not match variable kind")
)

// Variable is one schema entry. Continuous variables normalize against
// [Min, Max]; categorical variables against the ordered Categories list.
type Variable struct {
	Name       string   `yaml:"name" json:"name"`
	Label      string   `yaml:"label" json:"label"`
	Weight     float64  `yaml:"weight" json:"weight"`
	Kind       Kind     `yaml:"kind" json:"kind"`
	Min        float64  `yaml:"min,omitempty" json:"min,omitempty"`
	Max        float64  `yaml:"max,omitempty" json:"max,omitempty"`
	Categories []string `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// CategoryIndex returns the position of c in the category list, or -1.
func (v Variable) CategoryIndex(c string) int {
	for i, cat := range v.Categories {
		if cat == c {
			return i
		}
	}
	return -1
}

// Normalize maps a raw value onto [0,1] for the given variable.
//
//   - categorical: index / (len(categories) - 1); unlisted values, numbers included, fail with ErrUnknownCategory
//   - percentage: value / 100, not clamped
//   - continuous: (value - min) / (max - min), clamped to [0,1]
//
// A category given for a numeric variable fails with ErrValueKind.
func Normalize(value model.Value, v Variable) (float64, error) {
	switch v.Kind {
	case KindCategorical:
		if !value.IsCategorical() {
			return 0, eris.Wrapf(ErrUnknownCategory, "variable %s: number %s is not a category", v.Name, value)
		}
		idx := v.CategoryIndex(value.Category())
		if idx < 0 {
			return 0, eris.Wrapf(ErrUnknownCategory, "variable %s: %q", v.Name, value.Category())
		}
		return float64(idx) / float64(len(v.Categories)-1), nil

	case KindPercentage:
		if value.IsCategorical() {
			return 0, eris.Wrapf(ErrValueKind, "variable %s expects a number, got %q", v.Name, value.Category())
		}
		return value.Float() / 100, nil

	case KindContinuous:
		if value.IsCategorical() {
			return 0, eris.Wrapf(ErrValueKind, "variable %s expects a number, got %q", v.Name, value.Category())
		}
		n := (value.Float() - v.Min) / (v.Max - v.Min)
		return math.Min(1, math.Max(0, n)), nil
	}
	return 0, eris.Errorf("schema: variable %s has unsupported kind %q", v.Name, v.Kind)
}

// Schema is an ordered, indexed, read-only set of variables. It is safe for
// concurrent use.
type Schema struct {
	name   string
	vars   []Variable
	byName map[string]int
}

// New validates vars and returns an indexed Schema. The input slice is
// copied; later changes to it do not affect the schema.
func New(name string, vars []Variable) (*Schema, error) {
	if err := validate(vars); err != nil {
		return nil, eris.Wrapf(err, "schema: %s", name)
	}

	s := &Schema{
		name:   name,
		vars:   make([]Variable, len(vars)),
		byName: make(map[string]int, len(vars)),
	}
	for i, v := range vars {
		v.Categories = append([]string(nil), v.Categories...)
		if v.Label == "" {
			v.Label = "Similar " + v.Name
		}
		s.vars[i] = v
		s.byName[v.Name] = i
	}
	return s, nil
}

func validate(vars []Variable) error {
	if len(vars) == 0 {
		return eris.New("no variables defined")
	}

	var errs []string
	seen := make(map[string]bool, len(vars))
	for i, v := range vars {
		if v.Name == "" {
			errs = append(errs, fmt.Sprintf("variable %d has no name", i))
			continue
		}
		if seen[v.Name] {
			errs = append(errs, fmt.Sprintf("%s is defined more than once", v.Name))
		}
		seen[v.Name] = true

		if v.Weight < 0 || math.IsNaN(v.Weight) {
			errs = append(errs, fmt.Sprintf("%s weight must be >= 0", v.Name))
		}

		switch v.Kind {
		case KindContinuous:
			if !(v.Max > v.Min) {
				errs = append(errs, fmt.Sprintf("%s max must be > min", v.Name))
			}
		case KindPercentage:
		case KindCategorical:
			if len(v.Categories) < 2 {
				errs = append(errs, fmt.Sprintf("%s needs at least 2 categories", v.Name))
			}
			cats := make(map[string]bool, len(v.Categories))
			for _, c := range v.Categories {
				if cats[c] {
					errs = append(errs, fmt.Sprintf("%s lists category %q twice", v.Name, c))
				}
				cats[c] = true
			}
		default:
			errs = append(errs, fmt.Sprintf("%s has unknown kind %q", v.Name, v.Kind))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Name returns the schema's configuration name (e.g. "zip", "dma").
func (s *Schema) Name() string { return s.name }

// Len returns the number of variables.
func (s *Schema) Len() int { return len(s.vars) }

// Variables returns a copy of the variables in schema order.
func (s *Schema) Variables() []Variable {
	out := make([]Variable, len(s.vars))
	for i, v := range s.vars {
		v.Categories = append([]string(nil), v.Categories...)
		out[i] = v
	}
	return out
}

// At returns the variable at position i in schema order. The returned
// value shares its Categories slice with the schema and must not be modified.
func (s *Schema) At(i int) Variable { return s.vars[i] }

// Lookup returns the variable with the given name.
func (s *Schema) Lookup(name string) (Variable, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Variable{}, false
	}
	return s.vars[i], true
}

// Label returns the human-readable label for name, or name itself when the
// variable is not in the schema.
func (s *Schema) Label(name string) string {
	if v, ok := s.Lookup(name); ok {
		return v.Label
	}
	return name
}

// TotalWeight returns the sum of all variable weights.
func (s *Schema) TotalWeight() float64 {
	var sum float64
	for _, v := range s.vars {
		sum += v.Weight
	}
	return sum
}

// Normalize normalizes value against the named variable.
func (s *Schema) Normalize(name string, value model.Value) (float64, error) {
	v, ok := s.Lookup(name)
	if !ok {
		return 0, eris.Wrapf(ErrUnknownVariable, "%s", name)
	}
	return Normalize(value, v)
}

// Validate checks every value in p against the schema's categorical lists
// and value kinds. Variables unknown to the schema are ignored.
func (s *Schema) Validate(p model.Profile) error {
	for _, v := range s.vars {
		val, ok := p[v.Name]
		if !ok {
			continue
		}
		if _, err := Normalize(val, v); err != nil {
			return err
		}
	}
	return nil
}
