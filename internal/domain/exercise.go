package domain

// Exercise is one unit of practice content loaded from an exercise folder
type Exercise struct {
	ID            string     `json:"id"`
	Slug          string     `json:"slug"` // folder name, e.g. "E1_tip_calc"
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Instructions  string     `json:"instructions"`
	StarterCode   string     `json:"starterCode"`
	TestCode      string     `json:"testCode"`
	SolutionCode  string     `json:"solutionCode"`
	Difficulty    Difficulty `json:"difficulty"`
	Topics        []string   `json:"topics"`
	Hints         []string   `json:"hints"`
	Order         int        `json:"order"`
	EstimatedTime int        `json:"estimatedTime"` // minutes
}

// Difficulty represents exercise difficulty level
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Valid reports whether d is one of the known difficulty levels
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	default:
		return false
	}
}

// HasTopic reports whether the exercise is tagged with topic
func (e *Exercise) HasTopic(topic string) bool {
	for _, t := range e.Topics {
		if t == topic {
			return true
		}
	}
	return false
}
