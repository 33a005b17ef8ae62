package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of *testing.T the assertions need.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// TextAssertOptions tunes text comparison.
type TextAssertOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreLeadingWhitespace  bool `default:"false"`
	EnableColors             bool `default:"false"`
}

// TextOption configures a text assertion.
type TextOption func(*TextAssertOptions)

// WithIgnoreLeadingWhitespace strips indentation from every line.
func WithIgnoreLeadingWhitespace() TextOption {
	return func(o *TextAssertOptions) { o.IgnoreLeadingWhitespace = true }
}

// WithColors renders the diff with ANSI colors.
func WithColors() TextOption {
	return func(o *TextAssertOptions) { o.EnableColors = true }
}

// AssertTextEquals fails t with a unified diff when actual differs from
// expected after normalization.
func AssertTextEquals(t TestingT, expected, actual string, opts ...TextOption) bool {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}

	o := TextAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}

	if diff := textDiff(expected, actual, o); diff != "" {
		t.Errorf("Text assertion failed - unified diff:\n%s", diff)
		return false
	}
	return true
}

func textDiff(expected, actual string, o TextAssertOptions) string {
	expected = normalizeText(expected, o)
	actual = normalizeText(actual, o)
	if expected == actual {
		return ""
	}

	edits := myers.ComputeEdits("", expected, actual)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", expected, edits))
	if !o.EnableColors {
		return unified
	}
	return colorize(unified)
}

func normalizeText(text string, o TextAssertOptions) string {
	if o.TrimSpace {
		text = strings.TrimSpace(text)
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if o.IgnoreLeadingWhitespace {
			line = strings.TrimLeft(line, " \t")
		}
		if o.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t")
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func colorize(diff string) string {
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(strings.ReplaceAll(line, " ", "·"))
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(strings.ReplaceAll(line, " ", "·"))
		}
	}
	return strings.Join(lines, "\n")
}
