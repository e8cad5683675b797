package credential

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-labsync-backend/internal/domain"
)

// DefaultOffset is the partner's reference timezone.
const DefaultOffset = "+05:30"

// ParseOffset turns "+05:30", "-0700", "+5" or "UTC+05:30" into a fixed
// zone. An empty string yields DefaultOffset.
func ParseOffset(s string) (*time.Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = DefaultOffset
	}
	raw := strings.TrimPrefix(strings.ToUpper(s), "UTC")
	if raw == "" || raw == "Z" {
		return time.UTC, nil
	}

	sign, signChar := 1, '+'
	switch raw[0] {
	case '+':
		raw = raw[1:]
	case '-':
		sign, signChar = -1, '-'
		raw = raw[1:]
	default:
		return nil, fmt.Errorf("timezone offset %q: missing sign", s)
	}

	var hh, mm string
	switch {
	case strings.Contains(raw, ":"):
		parts := strings.SplitN(raw, ":", 2)
		hh, mm = parts[0], parts[1]
	case len(raw) == 4:
		hh, mm = raw[:2], raw[2:]
	default:
		hh, mm = raw, "0"
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 14 {
		return nil, fmt.Errorf("timezone offset %q: bad hours", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return nil, fmt.Errorf("timezone offset %q: bad minutes", s)
	}

	secs := sign * (h*3600 + m*60)
	name := fmt.Sprintf("UTC%c%02d:%02d", signChar, h, m)
	return time.FixedZone(name, secs), nil
}

// IsExpired reports whether c's issue date and now fall on different
// calendar dates in loc. Elapsed time plays no part: a credential issued at
// 23:59 is expired at 00:00:30.
func IsExpired(c domain.Credential, now time.Time, loc *time.Location) bool {
	if c.IsZero() || c.IssuedAt.IsZero() {
		return true
	}
	if loc == nil {
		loc = time.UTC
	}
	iy, im, id := c.IssuedAt.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	return iy != ny || im != nm || id != nd
}

// NextBoundary returns the next 00:00 in loc strictly after the date of t.
func NextBoundary(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
