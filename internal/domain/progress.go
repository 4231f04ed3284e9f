package domain

import "time"

// Progress tracks a user's attempts on a single exercise
type Progress struct {
	ID           string     `json:"id,omitempty"`
	UserID       string     `json:"userId"`
	ExerciseID   string     `json:"exerciseId"`
	Completed    bool       `json:"completed"`
	Attempts     int        `json:"attempts"`
	BestSolution string     `json:"bestSolution,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	TimeSpent    int        `json:"timeSpent"` // seconds
}

// Attempt is one progress update submitted by the client
type Attempt struct {
	Completed bool   `json:"completed"`
	Solution  string `json:"solution,omitempty"`
	TimeSpent int    `json:"timeSpent"`
}

// Apply folds an attempt into the progress record.
// Completion is sticky and CompletedAt is only set the first time.
func (p *Progress) Apply(a Attempt, now time.Time) {
	p.Attempts++
	p.TimeSpent += a.TimeSpent
	if a.Solution != "" {
		p.BestSolution = a.Solution
	}
	if a.Completed && !p.Completed {
		p.Completed = true
		t := now
		p.CompletedAt = &t
	}
}
