package calendar

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// GestationalAge is an elapsed span expressed as whole weeks plus 0..6 days.
type GestationalAge struct {
	Weeks int `json:"weeks"`
	Days  int `json:"days"`
}

// TotalDays returns weeks*7 + days.
func (g GestationalAge) TotalDays() int {
	return g.Weeks*7 + g.Days
}

func (g GestationalAge) String() string {
	return fmt.Sprintf("%dw%dd", g.Weeks, g.Days)
}

// ToWeeksAndDays splits a day count into weeks and days. Negative counts are
// rejected: there is no gestational age before the onset date.
func ToWeeksAndDays(total int) (GestationalAge, error) {
	if total < 0 {
		return GestationalAge{}, fmt.Errorf("%w: %d", ErrNegativeDays, total)
	}
	return GestationalAge{Weeks: total / 7, Days: total % 7}, nil
}

// Accepted shapes: "8s 2d", "8s2d", "8w2d", "8+2", "8 2", "8s", "8".
var gestationalAgePattern = regexp.MustCompile(`^(\d{1,2})\s*(?:semanas?|sem|weeks?|s|w)?\s*(?:\+?\s*(\d)\s*(?:dias?|days?|d)?)?$`)

// ParseGestationalAge reads the free-text weeks/days notation used by older
// records. A missing days part means 0.
func ParseGestationalAge(s string) (GestationalAge, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	m := gestationalAgePattern.FindStringSubmatch(s)
	if m == nil {
		return GestationalAge{}, fmt.Errorf("invalid gestational age %q", s)
	}
	weeks, _ := strconv.Atoi(m[1])
	days := 0
	if m[2] != "" {
		days, _ = strconv.Atoi(m[2])
	}
	if days > 6 {
		return GestationalAge{}, fmt.Errorf("invalid gestational age %q: days must be 0..6", s)
	}
	return GestationalAge{Weeks: weeks, Days: days}, nil
}
