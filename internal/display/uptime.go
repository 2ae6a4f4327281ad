package display

import (
	"fmt"
	"strings"
)

const uptimePrefix = "Up:"

// FormatUptime renders seconds as "Xd Yh Zm Ws" without leading zero
// units, dropping trailing units (seconds, then minutes) until it fits
// width. The "Up:" prefix is added only when it still fits. Unknown
// uptime renders as "?".
func FormatUptime(secs int64, known bool, width int) string {
	var parts []string
	if !known || secs < 0 {
		parts = []string{"?"}
	} else {
		parts = uptimeParts(secs)
	}

	s := strings.Join(parts, " ")
	for len(s) > width && len(parts) > 1 {
		parts = parts[:len(parts)-1]
		s = strings.Join(parts, " ")
	}

	if len(uptimePrefix)+len(s) <= width {
		return uptimePrefix + s
	}
	if len(s) > width && width >= 0 {
		return s[:width]
	}
	return s
}

func uptimeParts(secs int64) []string {
	units := []struct {
		size   int64
		suffix string
	}{
		{86400, "d"},
		{3600, "h"},
		{60, "m"},
		{1, "s"},
	}

	var parts []string
	for _, u := range units {
		n := secs / u.size
		secs %= u.size
		if n == 0 && len(parts) == 0 && u.size > 1 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d%s", n, u.suffix))
	}
	return parts
}
