// Package traits implements the configurable-trait model for renderers:
// typed descriptors with ranges and defaults, validated assignment that
// leaves the prior value on failure, and change notification.
package traits

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/hyperb1iss/uchroma/internal/canvas"
)

// Kind is the closed catalog of trait types.
type Kind string

const (
	Float     Kind = "float"
	Int       Kind = "int"
	Bool      Kind = "bool"
	Enum      Kind = "enum"
	String    Kind = "string"
	ColorOne  Kind = "color"
	ColorList Kind = "color_list"
	Preset    Kind = "preset"
)

var ErrInvalid = errors.New("invalid trait value")

// Def declares one trait: its type, constraint and default.
type Def struct {
	Name    string
	Kind    Kind
	Min     float64
	Max     float64
	Choices []string
	MinLen  int
	Presets map[string][]canvas.Color
	Default any
}

// FloatDef declares a bounded float trait.
func FloatDef(name string, def, min, max float64) Def {
	return Def{Name: name, Kind: Float, Min: min, Max: max, Default: def}
}

// IntDef declares a bounded int trait.
func IntDef(name string, def, min, max int) Def {
	return Def{Name: name, Kind: Int, Min: float64(min), Max: float64(max), Default: def}
}

// BoolDef declares a boolean trait.
func BoolDef(name string, def bool) Def {
	return Def{Name: name, Kind: Bool, Default: def}
}

// EnumDef declares a string trait restricted to the given choices.
func EnumDef(name string, def string, choices ...string) Def {
	return Def{Name: name, Kind: Enum, Choices: choices, Default: def}
}

// StringDef declares an unconstrained string trait.
func StringDef(name, def string) Def {
	return Def{Name: name, Kind: String, Default: def}
}

// ColorDef declares a single-color trait.
func ColorDef(name string, def canvas.Color) Def {
	return Def{Name: name, Kind: ColorOne, Default: def}
}

// ColorListDef declares a color-scheme trait with a minimum length.
func ColorListDef(name string, minLen int, def ...canvas.Color) Def {
	return Def{Name: name, Kind: ColorList, MinLen: minLen, Default: def}
}

// PresetDef declares a named choice whose values are color lists.
func PresetDef(name string, def string, presets map[string][]canvas.Color) Def {
	return Def{Name: name, Kind: Preset, Presets: presets, Default: def}
}

// Observer receives a notification after a trait value changes.
type Observer func(name string, old, value any)

// Set holds the trait values of one renderer instance.
type Set struct {
	mu        sync.RWMutex
	defs      map[string]Def
	order     []string
	values    map[string]any
	observers []Observer
}

// NewSet builds a trait set with every trait at its default.
func NewSet(defs ...Def) *Set {
	s := &Set{
		defs:   make(map[string]Def, len(defs)),
		values: make(map[string]any, len(defs)),
	}
	for _, d := range defs {
		s.defs[d.Name] = d
		s.order = append(s.order, d.Name)
		s.values[d.Name] = d.Default
	}
	return s
}

// AddDefs registers additional traits at their defaults; names already
// declared are left untouched.
func (s *Set) AddDefs(defs ...Def) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range defs {
		if _, ok := s.defs[d.Name]; ok {
			continue
		}
		s.defs[d.Name] = d
		s.order = append(s.order, d.Name)
		s.values[d.Name] = d.Default
	}
}

// Defs lists the declared traits in declaration order.
func (s *Set) Defs() []Def {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Def, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.defs[name])
	}
	return out
}

// Observe registers a change observer. Observers run synchronously on the
// assigning goroutine, after the value is stored.
func (s *Set) Observe(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Assign validates and stores one value. Out-of-range or mistyped
// assignments fail and leave the prior value untouched.
func (s *Set) Assign(name string, value any) error {
	s.mu.Lock()
	def, ok := s.defs[name]
	if !ok {
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalid, "unknown trait %q", name)
	}

	coerced, err := coerce(def, value)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	old := s.values[name]
	s.values[name] = coerced
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(name, old, coerced)
	}
	return nil
}

// AssignAll applies a batch of values; the first failure aborts and leaves
// previously applied values in place.
func (s *Set) AssignAll(values map[string]any) error {
	for name, v := range values {
		if err := s.Assign(name, v); err != nil {
			return err
		}
	}
	return nil
}

func coerce(def Def, value any) (any, error) {
	switch def.Kind {
	case Float:
		f, ok := toFloat(value)
		if !ok || f < def.Min || f > def.Max {
			return nil, errors.Wrapf(ErrInvalid, "%s: %v not in [%v,%v]", def.Name, value, def.Min, def.Max)
		}
		return f, nil
	case Int:
		f, ok := toFloat(value)
		i := int(f)
		if !ok || float64(i) != f || f < def.Min || f > def.Max {
			return nil, errors.Wrapf(ErrInvalid, "%s: %v not in [%v,%v]", def.Name, value, def.Min, def.Max)
		}
		return i, nil
	case Bool:
		b, ok := value.(bool)
		if !ok {
			return nil, errors.Wrapf(ErrInvalid, "%s: %v is not a bool", def.Name, value)
		}
		return b, nil
	case Enum:
		str, ok := value.(string)
		if !ok {
			return nil, errors.Wrapf(ErrInvalid, "%s: %v is not a string", def.Name, value)
		}
		for _, c := range def.Choices {
			if c == str {
				return str, nil
			}
		}
		return nil, errors.Wrapf(ErrInvalid, "%s: %q is not a valid choice", def.Name, str)
	case String:
		str, ok := value.(string)
		if !ok {
			return nil, errors.Wrapf(ErrInvalid, "%s: %v is not a string", def.Name, value)
		}
		return str, nil
	case ColorOne:
		return toColor(def, value)
	case ColorList:
		list, err := toColorList(def, value)
		if err != nil {
			return nil, err
		}
		if len(list) < def.MinLen {
			return nil, errors.Wrapf(ErrInvalid, "%s: needs at least %d colors", def.Name, def.MinLen)
		}
		return list, nil
	case Preset:
		str, ok := value.(string)
		if !ok {
			return nil, errors.Wrapf(ErrInvalid, "%s: %v is not a string", def.Name, value)
		}
		if _, ok := def.Presets[str]; !ok {
			return nil, errors.Wrapf(ErrInvalid, "%s: unknown preset %q", def.Name, str)
		}
		return str, nil
	}
	return nil, errors.Wrapf(ErrInvalid, "%s: unknown kind %q", def.Name, def.Kind)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func toColor(def Def, value any) (canvas.Color, error) {
	switch v := value.(type) {
	case canvas.Color:
		return v, nil
	case string:
		c, err := canvas.ParseColor(v)
		if err != nil {
			return canvas.Color{}, errors.Wrapf(ErrInvalid, "%s: %v", def.Name, err)
		}
		return c, nil
	}
	return canvas.Color{}, errors.Wrapf(ErrInvalid, "%s: %v is not a color", def.Name, value)
}

func toColorList(def Def, value any) ([]canvas.Color, error) {
	switch v := value.(type) {
	case []canvas.Color:
		return v, nil
	case []string:
		out := make([]canvas.Color, 0, len(v))
		for _, s := range v {
			c, err := canvas.ParseColor(s)
			if err != nil {
				return nil, errors.Wrapf(ErrInvalid, "%s: %v", def.Name, err)
			}
			out = append(out, c)
		}
		return out, nil
	case []any:
		out := make([]canvas.Color, 0, len(v))
		for _, item := range v {
			c, err := toColor(def, item)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrInvalid, "%s: %v is not a color list", def.Name, value)
}

// Typed getters. Missing names return the zero value.

func (s *Set) Float(name string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[name].(float64); ok {
		return v
	}
	return 0
}

func (s *Set) Int(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[name].(int); ok {
		return v
	}
	return 0
}

func (s *Set) Bool(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, _ := s.values[name].(bool)
	return v
}

func (s *Set) String(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, _ := s.values[name].(string)
	return v
}

func (s *Set) Color(name string) canvas.Color {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[name].(canvas.Color); ok {
		return v
	}
	return canvas.Color{}
}

func (s *Set) Colors(name string) []canvas.Color {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[name].([]canvas.Color); ok {
		out := make([]canvas.Color, len(v))
		copy(out, v)
		return out
	}
	return nil
}

// PresetColors resolves a preset trait to its color list.
func (s *Set) PresetColors(name string) []canvas.Color {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[name]
	if !ok {
		return nil
	}
	sel, _ := s.values[name].(string)
	return def.Presets[sel]
}

// Values snapshots every current value keyed by trait name.
func (s *Set) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
