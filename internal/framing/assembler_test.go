package framing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: PerNotification},
		{in: "notification", want: PerNotification},
		{in: "LINE", want: LineDelimited},
		{in: "bytes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssembler_PerNotification(t *testing.T) {
	a := NewAssembler(PerNotification, 0)

	assert.Equal(t, []string{"WAKE;1;2"}, a.Feed("WAKE;1;2"))
	assert.Equal(t, []string{""}, a.Feed(""))
	assert.Equal(t, 0, a.Pending())
}

func TestAssembler_LineDelimited(t *testing.T) {
	a := NewAssembler(LineDelimited, 64)

	assert.Empty(t, a.Feed("WAKE;120;0.50;"))
	assert.Equal(t, len("WAKE;120;0.50;"), a.Pending())

	frames := a.Feed("15000;0.10;0.20;0.30;5.0\r\nMAIN;1")
	assert.Equal(t, []string{"WAKE;120;0.50;15000;0.10;0.20;0.30;5.0"}, frames)
	assert.Equal(t, len("MAIN;1"), a.Pending())

	frames = a.Feed(";x\n\nWAKE;2\n")
	assert.Equal(t, []string{"MAIN;1;x", "WAKE;2"}, frames)
	assert.Equal(t, 0, a.Pending())
}

func TestAssembler_OverflowDropsWholeLine(t *testing.T) {
	a := NewAssembler(LineDelimited, 8)

	assert.Empty(t, a.Feed("12345"))
	assert.Empty(t, a.Feed("67890"), "partial line beyond the bound is dropped")
	assert.Equal(t, int64(1), a.Overflows())

	// The tail of the dropped line must not surface as a frame.
	assert.Equal(t, []string{"ok"}, a.Feed("abc\nok\n"))

	assert.Empty(t, a.Feed(strings.Repeat("x", 9)+"\n"))
	assert.Equal(t, int64(2), a.Overflows())
	assert.Equal(t, []string{"next"}, a.Feed("next\n"))
}

func TestAssembler_Reset(t *testing.T) {
	a := NewAssembler(LineDelimited, 0)

	a.Feed("WAKE;1;0.5")
	require.NotZero(t, a.Pending())

	a.Reset()
	assert.Zero(t, a.Pending())
	assert.Equal(t, []string{"MAIN;2"}, a.Feed("MAIN;2\n"))
}
