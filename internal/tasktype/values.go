package tasktype

import (
	"fmt"
	"sort"
	"time"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Values holds resolved parameter values keyed by parameter name
type Values map[string]cty.Value

// Has returns true if name resolved to a non-null value
func (v Values) Has(name string) bool {
	val, ok := v[name]
	return ok && !val.IsNull()
}

// String returns the parameter as a string, or "" when absent
func (v Values) String(name string) string {
	if !v.Has(name) {
		return ""
	}
	s, err := convert.Convert(v[name], cty.String)
	if err != nil || !s.IsKnown() {
		return v[name].GoString()
	}
	return s.AsString()
}

// Int returns the parameter as an int64
func (v Values) Int(name string) (int64, error) {
	if !v.Has(name) {
		return 0, fmt.Errorf("parameter %q not set", name)
	}
	var n int64
	if err := gocty.FromCtyValue(v[name], &n); err != nil {
		return 0, fmt.Errorf("parameter %q: %w", name, err)
	}
	return n, nil
}

// Bool returns the parameter as a bool, false when absent
func (v Values) Bool(name string) (bool, error) {
	if !v.Has(name) {
		return false, nil
	}
	var b bool
	if err := gocty.FromCtyValue(v[name], &b); err != nil {
		return false, fmt.Errorf("parameter %q: %w", name, err)
	}
	return b, nil
}

// Duration parses a string parameter with time.ParseDuration
func (v Values) Duration(name string) (time.Duration, error) {
	if !v.Has(name) {
		return 0, fmt.Errorf("parameter %q not set", name)
	}
	d, err := time.ParseDuration(v.String(name))
	if err != nil {
		return 0, fmt.Errorf("parameter %q: %w", name, err)
	}
	return d, nil
}

// Names returns the names of all resolved parameters, sorted
func (v Values) Names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
