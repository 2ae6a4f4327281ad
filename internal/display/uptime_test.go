package display

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldmon/kismet-monitor/internal/models"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		name  string
		secs  int64
		known bool
		width int
		want  string
	}{
		{"seconds only", 42, true, 13, "Up:42s"},
		{"zero", 0, true, 13, "Up:0s"},
		{"no leading zero units", 3725, true, 13, "Up:1h 2m 5s"},
		{"inner zero kept", 86400 + 5, true, 16, "Up:1d 0h 0m 5s"},
		{"drop prefix first", 86400 + 3600 + 60 + 1, true, 13, "1d 1h 1m 1s"},
		{"drop seconds", 86400 + 3600 + 60 + 1, true, 10, "1d 1h 1m"},
		{"exact fit without prefix", 3600 + 120 + 5, true, 8, "1h 2m 5s"},
		{"drop minutes", 86400 + 3600 + 60 + 1, true, 6, "1d 1h"},
		{"seconds never outlive minutes", 3600 + 60 + 1, true, 5, "1h 1m"},
		{"hours kept after both", 3600 + 60 + 1, true, 3, "1h"},
		{"unknown", 0, false, 13, "Up:?"},
		{"unknown narrow", 0, false, 2, "?"},
		{"last unit clipped", 1234567, true, 2, "14"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUptime(tt.secs, tt.known, tt.width))
		})
	}
}

func TestCanvas_Paint(t *testing.T) {
	cv := NewCanvas(128, 64)
	img := cv.Paint(Frame{
		Conn:   models.ConnUp,
		Fix:    "3D",
		Uptime: "Up:5s",
		Error:  "Host not found",
		Lines:  []string{"Found new AP"},
		Bars:   []int{0, 12, 6},
	})

	assert.Equal(t, image.Rect(0, 0, 128, 64), img.Bounds())
	// filled connection glyph
	assert.Equal(t, uint8(0xff), img.GrayAt(5, 5).Y)
	// error row background is lit
	assert.Equal(t, uint8(0xff), img.GrayAt(127, 14).Y)
	// tallest bar reaches the sparkline top
	assert.Equal(t, uint8(0xff), img.GrayAt(43, 52).Y)
	assert.Equal(t, uint8(0x00), img.GrayAt(1, 63).Y)

	// repaint clears the previous frame
	img = cv.Paint(Frame{Conn: models.ConnDown})
	assert.Equal(t, uint8(0x00), img.GrayAt(127, 14).Y)
}
