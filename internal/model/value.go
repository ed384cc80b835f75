package model

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
)

// Value is a single raw demographic observation: a number for continuous and
// percentage variables, a category label for categorical ones.
type Value struct {
	num   float64
	cat   string
	isCat bool
}

// Num returns a numeric Value.
func Num(v float64) Value { return Value{num: v} }

// Cat returns a categorical Value.
func Cat(c string) Value { return Value{cat: c, isCat: true} }

// IsCategorical reports whether the value holds a category label.
func (v Value) IsCategorical() bool { return v.isCat }

// Float returns the numeric value. Categorical values return 0.
func (v Value) Float() float64 { return v.num }

// Category returns the category label. Numeric values return "".
func (v Value) Category() string { return v.cat }

func (v Value) String() string {
	if v.isCat {
		return v.cat
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}

// MarshalJSON encodes numbers as JSON numbers and categories as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isCat {
		return json.Marshal(v.cat)
	}
	return json.Marshal(v.num)
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "model: decode categorical value")
		}
		*v = Cat(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return eris.Wrap(err, "model: decode numeric value")
	}
	*v = Num(f)
	return nil
}

// Profile maps a variable name to its raw value.
type Profile map[string]Value

// Get returns the value for name and whether it is present.
func (p Profile) Get(name string) (Value, bool) {
	v, ok := p[name]
	return v, ok
}

// Clone returns a shallow copy of the profile.
func (p Profile) Clone() Profile {
	if p == nil {
		return nil
	}
	out := make(Profile, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Overlay returns a new profile holding every base value, with values from
// overlay replacing base values variable by variable. Neither input is
// modified.
func Overlay(base, overlay Profile) Profile {
	out := make(Profile, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
