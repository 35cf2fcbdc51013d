package component

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

// FieldKind is the editing kind of a settings field.
type FieldKind string

// Field kinds, matching the editors offered by the settings surface.
const (
	FieldString  FieldKind = "string"
	FieldBool    FieldKind = "bool"
	FieldInt     FieldKind = "int"
	FieldDouble  FieldKind = "double"
	FieldOptions FieldKind = "options"
)

// Field describes one editable settings field.
type Field struct {
	Name    string    `json:"name"`
	Kind    FieldKind `json:"kind"`
	Value   any       `json:"value"`
	Options []string  `json:"options,omitempty"`
}

// OptionsProvider is implemented by settings types that restrict string
// fields to a fixed list of choices. Keys are field names.
type OptionsProvider interface {
	SettingOptions() map[string][]string
}

// Defaulter is implemented (on the pointer) by settings types whose default
// value is not the zero value.
type Defaulter interface {
	SetDefaults()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// SettingsType is the settings shape of one implementation.
//
// Values are handled as the concrete settings struct S. Flatten and Expand
// convert between S and flat scalar maps for stores and transports.
type SettingsType struct {
	name     string
	defaults func() any
	accept   func(v any) (any, bool)
	decode   func(values map[string]any) (any, error)
	restore  func(values map[string]any) any
	options  func(v any) map[string][]string
}

// ResolveSettingsType returns the settings shape of impl, or nil when the
// implementation's constructor takes no settings.
//
// The shape is checked on first use and the result is cached, so repeated
// calls are deterministic and cheap.
func ResolveSettingsType(impl *Implementation) (*SettingsType, error) {
	if impl == nil {
		return nil, fmt.Errorf("%w: nil implementation", ErrInvalidImplementationShape)
	}
	if impl.name == "" {
		return nil, fmt.Errorf("%w: implementation has no name", ErrInvalidImplementationShape)
	}
	if impl.build == nil {
		return nil, fmt.Errorf("%w: %s has no constructor", ErrInvalidImplementationShape, impl.name)
	}
	if impl.newSettings == nil {
		return nil, nil
	}

	impl.settingsOnce.Do(func() {
		st := impl.newSettings()
		if _, err := st.Flatten(st.Default()); err != nil {
			impl.settingsErr = fmt.Errorf("%w: %s: %w", ErrInvalidImplementationShape, impl.name, err)
			return
		}
		impl.settingsType = st
	})
	if impl.settingsErr != nil {
		return nil, impl.settingsErr
	}
	return impl.settingsType, nil
}

func newSettingsType[S any]() *SettingsType {
	return &SettingsType{
		name:     settingsTypeName[S](),
		defaults: func() any { return defaultSettings[S]() },
		accept: func(v any) (any, bool) {
			switch s := v.(type) {
			case S:
				return s, true
			case *S:
				if s != nil {
					return *s, true
				}
			}
			return nil, false
		},
		decode: func(values map[string]any) (any, error) {
			s := defaultSettings[S]()
			dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
				WeaklyTypedInput: true,
				ErrorUnused:      true,
				DecodeHook:       integralFloats,
				Result:           &s,
			})
			if err != nil {
				return nil, err
			}
			if err := dec.Decode(values); err != nil {
				return nil, err
			}
			return s, nil
		},
		restore: func(values map[string]any) any {
			s := defaultSettings[S]()
			for key, value := range values {
				// A field that no longer decodes keeps its default.
				_ = decodeField(&s, key, value)
			}
			return s
		},
		options: func(v any) map[string][]string {
			if p, ok := v.(OptionsProvider); ok {
				return p.SettingOptions()
			}
			s, ok := v.(S)
			if !ok {
				return nil
			}
			if p, ok := any(&s).(OptionsProvider); ok {
				return p.SettingOptions()
			}
			return nil
		},
	}
}

func defaultSettings[S any]() S {
	var s S
	if d, ok := any(&s).(Defaulter); ok {
		d.SetDefaults()
	}
	return s
}

func settingsTypeName[S any]() string {
	var zero S
	name := fmt.Sprintf("%T", zero)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func decodeField(target any, key string, value any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       integralFloats,
		Result:           target,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any{key: value})
}

// integralFloats refuses floats that an integer field cannot hold exactly,
// so 42.9 or 1e30 never reach an int as 42 or a wrapped value.
func integralFloats(_ reflect.Type, to reflect.Type, data any) (any, error) {
	var f float64
	switch v := data.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	default:
		return data, nil
	}

	field := reflect.New(to).Elem()
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 || field.OverflowInt(int64(f)) {
			return nil, fmt.Errorf("%v does not fit %s", f, to)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 || field.OverflowUint(uint64(f)) {
			return nil, fmt.Errorf("%v does not fit %s", f, to)
		}
	}
	return data, nil
}

// Name returns the settings type name without its package qualifier.
func (t *SettingsType) Name() string {
	return t.name
}

// Default returns a fresh default settings value.
func (t *SettingsType) Default() any {
	return t.defaults()
}

// Normalize checks that v is a value of the settings type (or a non-nil
// pointer to one) and returns it as a value.
func (t *SettingsType) Normalize(v any) (any, error) {
	s, ok := t.accept(v)
	if !ok {
		return nil, fmt.Errorf("%w: want %s, got %T", ErrSettingsTypeMismatch, t.name, v)
	}
	return s, nil
}

// Validate runs the struct tag validation rules on v and checks option
// fields against their choices. An empty option field counts as unset.
func (t *SettingsType) Validate(v any) error {
	s, err := t.Normalize(v)
	if err != nil {
		return err
	}
	if err := t.checkOptions(s); err != nil {
		return err
	}
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}

func (t *SettingsType) checkOptions(s any) error {
	options := t.options(s)
	if len(options) == 0 {
		return nil
	}
	flat, err := t.Flatten(s)
	if err != nil {
		return err
	}
	var msgs []string
	for name, choices := range options {
		value, ok := flat[name].(string)
		if !ok || value == "" || slices.Contains(choices, value) {
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s %q is not one of %s", name, value, strings.Join(choices, ", ")))
	}
	if len(msgs) == 0 {
		return nil
	}
	sort.Strings(msgs)
	return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(msgs, "; "))
}

// Flatten converts a settings value into a map of field name to scalar value.
func (t *SettingsType) Flatten(v any) (map[string]any, error) {
	s, err := t.Normalize(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := mapstructure.Decode(s, &out); err != nil {
		return nil, fmt.Errorf("flatten %s: %w", t.name, err)
	}
	for key, value := range out {
		if _, ok := kindOf(value); !ok {
			return nil, fmt.Errorf("flatten %s: field %s has unsupported type %T", t.name, key, value)
		}
	}
	return out, nil
}

// Expand builds a settings value from the defaults overlaid with values.
// Values are weakly typed ("42" fills a number). An unknown field or a
// value its field cannot hold is an ErrSettingsTypeMismatch.
func (t *SettingsType) Expand(values map[string]any) (any, error) {
	s, err := t.decode(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSettingsTypeMismatch, t.name, err)
	}
	return s, nil
}

// Restore is the forgiving Expand used for stored settings: unknown fields
// are ignored and a field that no longer decodes keeps its default.
func (t *SettingsType) Restore(values map[string]any) any {
	return t.restore(values)
}

// Fields enumerates the editable fields of v, sorted by name.
func (t *SettingsType) Fields(v any) ([]Field, error) {
	flat, err := t.Flatten(v)
	if err != nil {
		return nil, err
	}
	options := t.options(v)

	fields := make([]Field, 0, len(flat))
	for name, value := range flat {
		kind, _ := kindOf(value)
		f := Field{Name: name, Kind: kind, Value: value}
		if opts, ok := options[name]; ok && kind == FieldString {
			f.Kind = FieldOptions
			f.Options = append([]string(nil), opts...)
		}
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}

func kindOf(v any) (FieldKind, bool) {
	switch v.(type) {
	case string:
		return FieldString, true
	case bool:
		return FieldBool, true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return FieldInt, true
	case float32, float64:
		return FieldDouble, true
	default:
		return "", false
	}
}
