package types

import "time"

// RecordedSegment is one captured media answer tied to a single question.
// At most one live segment exists per question: re-recording a question
// replaces its previous segment wholesale.
type RecordedSegment struct {
	QuestionID string
	// PCM holds raw little-endian 16-bit samples; container framing is
	// applied at assembly time, not per segment.
	PCM        []byte
	Duration   time.Duration
	StartedAt  time.Time
	FinishedAt time.Time
}
