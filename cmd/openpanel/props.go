package main

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/randalmurphal/openpanel/pkg/openpanel/property"
)

// propertyFlag collects repeated key=value flags. Values that parse as an
// integer, finite float or true/false keep that type; everything else is a string.
type propertyFlag map[string]property.Value

func (p propertyFlag) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (p propertyFlag) Set(s string) error {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("property %q: want key=value", s)
	}
	p[key] = parseValue(raw)
	return nil
}

// Map returns the collected properties, nil when none were given.
func (p propertyFlag) Map() property.Map {
	if len(p) == 0 {
		return nil
	}
	return property.Map(p).Clone()
}

func parseValue(raw string) property.Value {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return property.Int(i)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return property.Float(f)
	}
	switch raw {
	case "true":
		return property.Bool(true)
	case "false":
		return property.Bool(false)
	}
	return property.String(raw)
}
