package types

// QuestionType categorizes interview questions.
type QuestionType string

const (
	QuestionTechnical   QuestionType = "technical"
	QuestionBehavioral  QuestionType = "behavioral"
	QuestionSituational QuestionType = "situational"
)

// Question is a single scripted interview prompt. Questions are supplied by
// the platform at session load and never mutated client-side.
type Question struct {
	ID               string       `json:"id"`
	Text             string       `json:"text"`
	Type             QuestionType `json:"type"`
	TimeLimitSeconds int          `json:"time_limit_seconds"`
}

func validQuestionType(t QuestionType) bool {
	switch t {
	case QuestionTechnical, QuestionBehavioral, QuestionSituational:
		return true
	default:
		return false
	}
}
