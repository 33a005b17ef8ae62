package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recorder captures failures instead of failing the test.
type recorder struct {
	failures []string
}

func (r *recorder) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestAssertJSONEquals(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		opts     []JSONOption
		pass     bool
	}{
		{name: "equal", expected: `{"a":1}`, actual: `{"a":1}`, pass: true},
		{name: "extra keys ignored", expected: `{"a":1}`, actual: `{"a":1,"b":2}`, pass: true},
		{name: "extra keys strict", expected: `{"a":1}`, actual: `{"a":1,"b":2}`, opts: []JSONOption{WithStrictKeys()}, pass: false},
		{name: "value differs", expected: `{"a":1}`, actual: `{"a":2}`, pass: false},
		{name: "presence placeholder", expected: `{"at":"<<PRESENCE>>"}`, actual: `{"at":"2024-01-01"}`, pass: true},
		{name: "presence placeholder missing key", expected: `{"at":"<<PRESENCE>>"}`, actual: `{}`, pass: false},
		{name: "ignored fields", expected: `{"a":1,"t":1}`, actual: `{"a":1,"t":2}`, opts: []JSONOption{WithIgnoredFields("t")}, pass: true},
		{name: "root arrays", expected: `[{"a":1},{"a":2}]`, actual: `[{"a":1},{"a":2}]`, pass: true},
		{name: "root arrays differ", expected: `[{"a":1}]`, actual: `[{"a":3}]`, pass: false},
		{name: "invalid actual", expected: `{}`, actual: `{`, pass: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			ok := AssertJSONEquals(r, tt.expected, tt.actual, tt.opts...)
			assert.Equal(t, tt.pass, ok, r.failures)
			assert.Equal(t, tt.pass, len(r.failures) == 0)
		})
	}
}

func TestAssertTextEquals(t *testing.T) {
	r := &recorder{}
	assert.True(t, AssertTextEquals(r, "a\nb  \n", "a\nb"))

	assert.True(t, AssertTextEquals(r, "  a\n  b", "a\nb", WithIgnoreLeadingWhitespace()))

	assert.False(t, AssertTextEquals(r, "a\nb", "a\nc"))
	if assert.Len(t, r.failures, 1) {
		assert.Contains(t, r.failures[0], "-b")
		assert.Contains(t, r.failures[0], "+c")
	}
}
