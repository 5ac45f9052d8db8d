package points

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreakBonus(t *testing.T) {
	r := DefaultRules()
	cases := map[int]int{0: 0, 6: 0, 7: 30, 13: 30, 14: 60, 21: 90, -3: 0}
	for streak, want := range cases {
		assert.Equal(t, want, r.StreakBonus(streak), "streak %d", streak)
	}
}

// A 14-day streak with one check-in per day and no completed items.
func TestTwoWeekStreakScore(t *testing.T) {
	r := DefaultRules()
	b := r.Calculate(0, 14*r.CheckinPoints, 14)
	assert.Equal(t, 140, b.CheckinPoints)
	assert.Equal(t, 60, b.StreakBonus)
	assert.Equal(t, 200, b.Total)
}

func TestCalculateIncludesItems(t *testing.T) {
	r := Rules{CheckinPoints: 5, StreakWeekDays: 5, StreakWeekBonus: 10}
	b := r.Calculate(120, 25, 11)
	assert.Equal(t, Breakdown{ItemPoints: 120, CheckinPoints: 25, StreakBonus: 20, Streak: 11, Total: 165}, b)
}
