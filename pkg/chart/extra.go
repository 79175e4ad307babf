package chart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Extra holds Vega-Lite properties that have no typed field (transform, layer, params, bin,
// stack, ...) so a parsed spec encodes back without losing them.
type Extra map[string]json.RawMessage

//nolint:gochecknoglobals // typed keys, fixed at init
var (
	specKeys    = jsonKeys(reflect.TypeOf(Spec{}))
	markKeys    = jsonKeys(reflect.TypeOf(Mark{}))
	channelKeys = jsonKeys(reflect.TypeOf(Channel{}))
)

func jsonKeys(t reflect.Type) map[string]bool {
	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	return keys
}

// splitExtra returns the members of the JSON object data that are not in known, or nil.
func splitExtra(data []byte, known map[string]bool) (Extra, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap
	}
	var extra Extra
	for k, v := range all {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = Extra{}
		}
		extra[k] = v
	}
	return extra, nil
}

// mergeExtra adds extra to the encoded object typed. Typed fields win on a key clash.
func mergeExtra(typed []byte, extra Extra) ([]byte, error) {
	if len(extra) == 0 {
		return typed, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(typed, &all); err != nil {
		return nil, fmt.Errorf("extra: %w", err)
	}
	for k, v := range extra {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return encode(all)
}

// encode marshals v without HTML escaping, leaving that choice to the outer encoder.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
