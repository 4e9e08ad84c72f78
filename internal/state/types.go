package state

import "time"

// #region profile
// Profile is the user profile. It changes only through explicit settings
// actions and drives persona tone and authorization checks.
type Profile struct {
	Name      string
	BirthDate *time.Time
	Location  string
	Voice     string
	UpdatedAt time.Time
}

// Age returns the completed years at now. ok is false without a birth date.
func (p Profile) Age(now time.Time) (age int, ok bool) {
	if p.BirthDate == nil {
		return 0, false
	}
	b := p.BirthDate.UTC()
	n := now.UTC()
	age = n.Year() - b.Year()
	if n.Month() < b.Month() || (n.Month() == b.Month() && n.Day() < b.Day()) {
		age--
	}
	if age < 0 {
		age = 0
	}
	return age, true
}
// #endregion profile

// #region token-usage
// TokenUsage is a daily-resetting estimate of tokens consumed.
type TokenUsage struct {
	Count     int
	ResetDate string // YYYY-MM-DD in local time
}

// Add returns the counter after adding n at now, resetting it first when the
// stored date is not today.
func (u TokenUsage) Add(n int, now time.Time) TokenUsage {
	today := now.Format("2006-01-02")
	if u.ResetDate != today {
		u = TokenUsage{ResetDate: today}
	}
	u.Count += n
	return u
}

// Current returns the counter as seen at now without adding to it.
func (u TokenUsage) Current(now time.Time) TokenUsage {
	return u.Add(0, now)
}
// #endregion token-usage
