package ledger

import (
	"fmt"
	"time"

	"genorch/internal/domain"
)

// PeriodKey returns the ledger period containing t: "YYYY-MM" for monthly plans and the ISO
// week "YYYY-Www" for weekly plans. Keys are computed in UTC.
func PeriodKey(kind domain.PeriodKind, t time.Time) string {
	t = t.UTC()
	if kind == domain.PeriodWeekly {
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	}
	return t.Format("2006-01")
}

// ValidPeriod reports whether p is a well-formed period key of either kind.
func ValidPeriod(p string) bool {
	if _, err := time.Parse("2006-01", p); err == nil && len(p) == 7 {
		return true
	}
	var year, week int
	if n, err := fmt.Sscanf(p, "%4d-W%2d", &year, &week); err == nil && n == 2 && len(p) == 8 {
		return week >= 1 && week <= 53
	}
	return false
}
