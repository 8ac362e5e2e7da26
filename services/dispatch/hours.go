package dispatch

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
)

// withinBusinessHours reports whether now falls on a configured business day
// and inside the [start, end) local-time window. The window is half-open so
// an end of 17:00 means the last dispatchable minute is 16:59.
func (l *Loop) withinBusinessHours(ctx context.Context, now time.Time) bool {
	days := l.config.IntList(ctx, domain.KeyBusinessDays)
	if !slices.Contains(days, int(now.Weekday())) {
		return false
	}

	start, err := parseHHMM(l.config.String(ctx, domain.KeyBusinessHoursStart))
	if err != nil {
		start = 9 * 60
	}
	end, err := parseHHMM(l.config.String(ctx, domain.KeyBusinessHoursEnd))
	if err != nil {
		end = 17 * 60
	}

	minute := now.Hour()*60 + now.Minute()
	return minute >= start && minute < end
}

// parseHHMM converts "HH:MM" to minutes since midnight.
func parseHHMM(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse %q as HH:MM: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("parse %q as HH:MM: out of range", s)
	}
	return h*60 + m, nil
}
