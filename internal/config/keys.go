package config

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Get returns the value at a dotted key. Sections are returned as TOML.
func (c *Config) Get(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("unknown key: %q", key)
	}
	v, err := walk(reflect.ValueOf(c).Elem(), splitKey(key), key, nil)
	if err != nil {
		return "", err
	}
	return format(v)
}

// Set assigns value, parsed for the key's type, at a dotted key. Lists are
// comma-separated. The result is not validated; call Validate.
func (c *Config) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("unknown key: %q", key)
	}
	_, err := walk(reflect.ValueOf(c).Elem(), splitKey(key), key, &value)
	return err
}

// Keys returns every settable key in dot notation.
func (c *Config) Keys() []string {
	var keys []string
	collect(reflect.ValueOf(c).Elem(), "", &keys)
	return keys
}

func splitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ".")
}

var textUnmarshaler = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// walk follows parts from v. When value is non-nil the final field is set.
// Map entries are not addressable, so they are copied, descended into and
// stored back.
func walk(v reflect.Value, parts []string, key string, value *string) (reflect.Value, error) {
	if len(parts) == 0 {
		if value != nil {
			if err := assign(v, *value); err != nil {
				return v, fmt.Errorf("cannot set %s: %w", key, err)
			}
		}
		return v, nil
	}

	switch v.Kind() {
	case reflect.Struct:
		if isLeaf(v) {
			break
		}
		f, ok := fieldByTag(v, parts[0])
		if !ok {
			return v, fmt.Errorf("unknown key: %s", key)
		}
		return walk(f, parts[1:], key, value)

	case reflect.Map:
		k := reflect.ValueOf(parts[0]).Convert(v.Type().Key())
		elem := v.MapIndex(k)
		cp := reflect.New(v.Type().Elem()).Elem()
		if elem.IsValid() {
			cp.Set(elem)
		} else if value == nil {
			return v, fmt.Errorf("unknown key: %s", key)
		}
		res, err := walk(cp, parts[1:], key, value)
		if err != nil {
			return res, err
		}
		if value != nil {
			if v.IsNil() {
				v.Set(reflect.MakeMap(v.Type()))
			}
			v.SetMapIndex(k, cp)
		}
		return res, nil
	}
	return v, fmt.Errorf("unknown key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// isLeaf reports whether a struct is set from a single string.
func isLeaf(v reflect.Value) bool {
	return reflect.PointerTo(v.Type()).Implements(textUnmarshaler)
}

func assign(field reflect.Value, s string) error {
	if reflect.PointerTo(field.Type()).Implements(textUnmarshaler) {
		p := reflect.New(field.Type())
		if err := p.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return err
		}
		field.Set(p.Elem())
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Int, reflect.Int64, reflect.Int32:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value %q", s)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint64, reflect.Uint32:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value %q", s)
		}
		field.SetUint(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid boolean value %q", s)
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list type %s", field.Type())
		}
		var items []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		out := reflect.MakeSlice(field.Type(), len(items), len(items))
		for i, item := range items {
			out.Index(i).SetString(item)
		}
		field.Set(out)
	default:
		return errors.New("key names a section, not a value")
	}
	return nil
}

func format(v reflect.Value) (string, error) {
	if m, ok := v.Interface().(encoding.TextMarshaler); ok {
		b, err := m.MarshalText()
		return string(b), err
	}

	switch v.Kind() {
	case reflect.Struct, reflect.Map:
		b, err := toml.Marshal(v.Interface())
		if err != nil {
			return "", fmt.Errorf("failed to encode section: %w", err)
		}
		return strings.TrimRight(string(b), "\n"), nil
	case reflect.Slice:
		items := make([]string, v.Len())
		for i := range items {
			items[i] = fmt.Sprint(v.Index(i).Interface())
		}
		return strings.Join(items, ","), nil
	}
	return fmt.Sprint(v.Interface()), nil
}

func collect(v reflect.Value, prefix string, keys *[]string) {
	join := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}

	switch {
	case v.Kind() == reflect.Struct && !isLeaf(v):
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
			if tag == "" || tag == "-" {
				continue
			}
			f := v.Field(i)
			if f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.Struct {
				// Arrays of tables are edited in the file.
				continue
			}
			collect(f, join(tag), keys)
		}
	case v.Kind() == reflect.Map:
		names := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			names = append(names, k.String())
		}
		slices.Sort(names)
		for _, n := range names {
			collect(v.MapIndex(reflect.ValueOf(n).Convert(v.Type().Key())), join(n), keys)
		}
	default:
		*keys = append(*keys, prefix)
	}
}
