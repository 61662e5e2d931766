// Package tracker keeps the per-user bookkeeping updated after each activity:
// day streaks with grace tokens, and personal records.
package tracker

import "time"

// DateLayout is the calendar-day format used for LastActiveDate.
const DateLayout = "2006-01-02"

// UserStreak is a user's consecutive-day state
type UserStreak struct {
	UserID         string `json:"user_id"`
	Current        int    `json:"current"`
	Best           int    `json:"best"`
	LastActiveDate string `json:"last_active_date,omitempty"` // empty when never active
	GraceTokens    int    `json:"grace_tokens"`
}

// StreakChange says what an activity did to the streak
type StreakChange string

const (
	StreakStarted   StreakChange = "started"
	StreakExtended  StreakChange = "extended"
	StreakUnchanged StreakChange = "unchanged"
	StreakGraceUsed StreakChange = "grace_used"
	StreakReset     StreakChange = "reset"
)

// StreakUpdate is the new streak plus what happened to it.
type StreakUpdate struct {
	Streak        UserStreak   `json:"streak"`
	Change        StreakChange `json:"change"`
	GraceConsumed int          `json:"grace_consumed"`
}

// CalendarDate truncates t to its day in its own location.
func CalendarDate(t time.Time) string {
	return t.Format(DateLayout)
}

// UpdateStreak advances s for an activity on activityDate, compared as a
// calendar day in activityDate's location:
//
//	same day as last active        -> unchanged
//	next day                       -> current+1
//	gap of g days, g-1 <= tokens   -> current+1, g-1 tokens consumed
//	larger gap                     -> current resets to 1
//
// An activity dated before the last active day is a back-dated log and leaves
// the streak alone. Best never decreases.
func UpdateStreak(s UserStreak, activityDate time.Time) StreakUpdate {
	day := CalendarDate(activityDate)

	if s.LastActiveDate == "" {
		s.Current = 1
		s.LastActiveDate = day
		s.Best = max(s.Best, s.Current)
		return StreakUpdate{Streak: s, Change: StreakStarted}
	}

	last, err := time.Parse(DateLayout, s.LastActiveDate)
	if err != nil {
		// unreadable state: start over from this activity
		s.Current = 1
		s.LastActiveDate = day
		s.Best = max(s.Best, s.Current)
		return StreakUpdate{Streak: s, Change: StreakReset}
	}
	today, _ := time.Parse(DateLayout, day)
	gap := daysBetween(last, today)

	update := StreakUpdate{}
	switch {
	case gap <= 0:
		update.Change = StreakUnchanged
	case gap == 1:
		s.Current++
		s.LastActiveDate = day
		update.Change = StreakExtended
	case gap-1 <= s.GraceTokens:
		s.Current++
		s.GraceTokens -= gap - 1
		s.LastActiveDate = day
		update.Change = StreakGraceUsed
		update.GraceConsumed = gap - 1
	default:
		s.Current = 1
		s.LastActiveDate = day
		update.Change = StreakReset
	}

	s.Best = max(s.Best, s.Current)
	update.Streak = s
	return update
}

// daysBetween counts calendar days from a to b, both parsed as UTC midnights.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// GrantGraceTokens adds n tokens, capped at limit when limit > 0. Replenishment
// policy belongs to the caller; the streak machine only consumes tokens.
func GrantGraceTokens(s UserStreak, n, limit int) UserStreak {
	if n <= 0 {
		return s
	}
	s.GraceTokens += n
	if limit > 0 && s.GraceTokens > limit {
		s.GraceTokens = limit
	}
	return s
}
