// Package points computes a participant's score from completed items,
// check-ins and the live streak.
package points

// Rules parameterises the calculator.
type Rules struct {
	// CheckinPoints is credited per accepted check-in.
	CheckinPoints int
	// StreakWeekDays is the number of streak days that earn one bonus.
	StreakWeekDays int
	// StreakWeekBonus is the bonus per completed streak week.
	StreakWeekBonus int
}

// DefaultRules returns the standard scoring: 10 per check-in and 30 for
// every 7 consecutive days.
func DefaultRules() Rules {
	return Rules{CheckinPoints: 10, StreakWeekDays: 7, StreakWeekBonus: 30}
}

// StreakBonus is floor(streak / StreakWeekDays) * StreakWeekBonus.
func (r Rules) StreakBonus(streak int) int {
	if streak <= 0 || r.StreakWeekDays <= 0 {
		return 0
	}
	return (streak / r.StreakWeekDays) * r.StreakWeekBonus
}

// Breakdown is a score with its components.
type Breakdown struct {
	ItemPoints    int `json:"item_points"`
	CheckinPoints int `json:"checkin_points"`
	StreakBonus   int `json:"streak_bonus"`
	Streak        int `json:"streak"`
	Total         int `json:"total"`
}

// Calculate combines item points, ledger points and the streak bonus.
func (r Rules) Calculate(itemPoints, checkinPoints, streak int) Breakdown {
	bonus := r.StreakBonus(streak)
	return Breakdown{
		ItemPoints:    itemPoints,
		CheckinPoints: checkinPoints,
		StreakBonus:   bonus,
		Streak:        streak,
		Total:         itemPoints + checkinPoints + bonus,
	}
}
