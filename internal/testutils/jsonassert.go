package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value, as long as
// the key is present.
const PresencePlaceholder = "<<PRESENCE>>"

// JSONAssertOptions tunes JSON comparison.
type JSONAssertOptions struct {
	IgnoreExtraKeys bool     `default:"true"`
	IgnoredFields   []string `default:""`
}

// JSONOption configures a JSON assertion.
type JSONOption func(*JSONAssertOptions)

// WithStrictKeys fails on keys present in actual but not in expected.
func WithStrictKeys() JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = false }
}

// WithIgnoredFields drops the named keys, at any depth, from both sides.
func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

// AssertJSONEquals fails t with an ASCII diff when actual does not match
// expected.
func AssertJSONEquals(t TestingT, expected, actual string, opts ...JSONOption) bool {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}

	o := JSONAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}

	if diff := jsonDiff(expected, actual, o); diff != "" {
		t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func jsonDiff(expectedJSON, actualJSON string, o JSONAssertOptions) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only.
	if _, ok := expected.([]any); ok {
		expected = map[string]any{"array": expected}
		actual = map[string]any{"array": actual}
	}

	normalize(expected, actual, o)

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

// normalize walks expected and actual in lockstep, resolving placeholders,
// dropping ignored fields and, if enabled, actual-only keys.
func normalize(expected, actual any, o JSONAssertOptions) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for _, f := range o.IgnoredFields {
			delete(exp, f)
			delete(act, f)
		}
		if o.IgnoreExtraKeys {
			for k := range act {
				if _, ok := exp[k]; !ok {
					delete(act, k)
				}
			}
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == PresencePlaceholder {
				if av, present := act[k]; present {
					exp[k] = av
				}
				continue
			}
			normalize(v, act[k], o)
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				normalize(exp[i], act[i], o)
			}
		}
	}
}
