// Package anniversary scores and orders recurring yearly events for
// notification-style surfaces.
package anniversary

// significanceRule maps a predicate over elapsed years to a score. Rules are
// evaluated top-down and the first match wins, which keeps the precedence
// (centuries beat half-centuries beat decades) explicit and independently
// testable instead of buried in nested conditionals.
type significanceRule struct {
	matches func(years int) bool
	score   int
}

var significanceRules = []significanceRule{
	{func(y int) bool { return y%100 == 0 }, 1000},
	{func(y int) bool { return y%50 == 0 }, 500},
	{func(y int) bool { return y%10 == 0 }, 100},
	{func(y int) bool { return y == 1 || y == 5 }, 100},
}

const baseSignificance = 10

// Significance scores a milestone by elapsed years: centuries 1000,
// half-centuries 500, decades and the 1st and 5th anniversaries 100,
// everything else 10.
func Significance(years int) int {
	if years < 1 {
		return baseSignificance
	}
	for _, rule := range significanceRules {
		if rule.matches(years) {
			return rule.score
		}
	}
	return baseSignificance
}
