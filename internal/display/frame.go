package display

import (
	"github.com/fieldmon/kismet-monitor/internal/models"
	"github.com/fieldmon/kismet-monitor/pkg/rrd"
)

// Frame is everything painted on one refresh. It is a pure function of
// composer state and the snapshot.
type Frame struct {
	Conn   models.ConnState
	Fix    string
	Uptime string
	// Error is shown on its own inverted row above the messages
	Error string
	// Lines are the message rows: current message (or idle text) first,
	// then queued previews
	Lines []string
	Bars  []int
}

// Layout is the character grid derived from the panel size
type Layout struct {
	Cols        int
	TextRows    int
	SparkHeight int
}

func newLayout(cfg Config) Layout {
	l := Layout{
		Cols:        cfg.Width / glyphWidth,
		SparkHeight: cfg.SparkHeight,
	}
	rows := (cfg.Height - rowHeight - cfg.SparkHeight) / rowHeight
	if rows < 1 {
		rows = 1
	}
	l.TextRows = rows
	return l
}

// status bar columns: connection glyph, fix label, uptime
const (
	glyphCols = 2
	fixCols   = 3
)

func fixLabel(f models.FixQuality) string {
	switch f {
	case models.Fix3D:
		return "3D"
	case models.Fix2D:
		return "2D"
	default:
		return "--"
	}
}

func (c *Composer) compose() Frame {
	snap := c.board.Snapshot()
	up, known := snap.Uptime()

	f := Frame{
		Conn:   c.conn,
		Fix:    fixLabel(c.fix),
		Uptime: FormatUptime(up, known, c.layout.Cols-glyphCols-fixCols),
		Error:  clip(c.errText, c.layout.Cols),
	}

	rows := c.layout.TextRows
	if f.Error != "" {
		rows--
	}
	if rows > 0 {
		lines := make([]string, 0, rows)
		if c.current != nil {
			lines = append(lines, clip(c.current.Text, c.layout.Cols))
		} else {
			lines = append(lines, clip(c.cfg.IdleText, c.layout.Cols))
		}
		for i := 0; i < len(c.queue) && len(lines) < rows; i++ {
			lines = append(lines, clip(c.queue[i].Text, c.layout.Cols))
		}
		f.Lines = lines
	}

	if c.layout.SparkHeight > 0 {
		f.Bars = rrd.Scale(c.rate, c.layout.SparkHeight)
	}
	return f
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
