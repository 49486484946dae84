package progress

import "time"

const (
	xpPerExercise  = 10
	xpPerRecording = 5
)

// civilDate truncates t to its calendar date in t's own location and
// returns it as midnight UTC, so dates compare by day count.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// apply folds one practice session into p. Practice on the day after the
// last one extends the streak, a gap restarts it at one, and a session on
// the same or an earlier day leaves it unchanged.
func apply(p UserProgress, pr Practice) UserProgress {
	day := civilDate(pr.At)

	switch {
	case p.LastPracticeDate == nil:
		p.CurrentStreak = 1
		p.LastPracticeDate = &day
	default:
		last := civilDate(*p.LastPracticeDate)
		gap := int(day.Sub(last).Hours() / 24)
		switch {
		case gap == 1:
			p.CurrentStreak++
			p.LastPracticeDate = &day
		case gap > 1:
			p.CurrentStreak = 1
			p.LastPracticeDate = &day
		}
	}
	p.LongestStreak = max(p.LongestStreak, p.CurrentStreak)

	p.TotalExercises++
	p.TotalPracticeSeconds += max(0, pr.Seconds)
	p.XP += xpPerExercise
	if pr.Recording {
		p.TotalRecordings++
		p.XP += xpPerRecording
	}
	return p
}

// badge is an achievement with the condition that unlocks it.
type badge struct {
	id          string
	title       string
	description string
	earned      func(UserProgress) bool
}

var badges = []badge{
	{"first_exercise", "First Steps", "Finish your first exercise.", func(p UserProgress) bool { return p.TotalExercises >= 1 }},
	{"first_recording", "On the Record", "Save your first recording.", func(p UserProgress) bool { return p.TotalRecordings >= 1 }},
	{"streak_3", "Warming Up", "Practice three days in a row.", func(p UserProgress) bool { return p.LongestStreak >= 3 }},
	{"streak_7", "Week Strong", "Practice seven days in a row.", func(p UserProgress) bool { return p.LongestStreak >= 7 }},
	{"streak_30", "Habit Formed", "Practice thirty days in a row.", func(p UserProgress) bool { return p.LongestStreak >= 30 }},
	{"exercises_50", "Dedicated", "Finish fifty exercises.", func(p UserProgress) bool { return p.TotalExercises >= 50 }},
}

// earned lists every achievement p qualifies for.
func earned(p UserProgress, at time.Time) []Achievement {
	var out []Achievement
	for _, b := range badges {
		if b.earned(p) {
			out = append(out, Achievement{ID: b.id, Title: b.title, Description: b.description, UnlockedAt: at})
		}
	}
	return out
}
