package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeframe is a candle bucket length.
type Timeframe struct {
	Seconds int
}

// Label returns the short form used as map key and exchange interval ("1m", "4h").
func (t Timeframe) Label() string { return TFLabel(t.Seconds) }

// Duration returns the bucket length.
func (t Timeframe) Duration() time.Duration { return time.Duration(t.Seconds) * time.Second }

// TFLabel converts seconds into a compact label: 60 → "1m", 14400 → "4h".
func TFLabel(sec int) string {
	switch {
	case sec >= 86400 && sec%86400 == 0:
		return strconv.Itoa(sec/86400) + "d"
	case sec >= 3600 && sec%3600 == 0:
		return strconv.Itoa(sec/3600) + "h"
	case sec >= 60 && sec%60 == 0:
		return strconv.Itoa(sec/60) + "m"
	default:
		return strconv.Itoa(sec) + "s"
	}
}

// ParseTimeframe accepts either a label ("30m") or plain seconds ("1800").
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return Timeframe{}, fmt.Errorf("empty timeframe")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return Timeframe{}, fmt.Errorf("timeframe %q must be positive", s)
		}
		return Timeframe{Seconds: n}, nil
	}

	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return Timeframe{}, fmt.Errorf("invalid timeframe %q", s)
	}
	switch unit {
	case 's':
		return Timeframe{Seconds: n}, nil
	case 'm':
		return Timeframe{Seconds: n * 60}, nil
	case 'h':
		return Timeframe{Seconds: n * 3600}, nil
	case 'd':
		return Timeframe{Seconds: n * 86400}, nil
	}
	return Timeframe{}, fmt.Errorf("invalid timeframe unit in %q", s)
}
