package types

import "time"

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleCandidate Role = "candidate"
)

// TranscriptEntry is one turn of a live voice exchange. Entries are
// append-only and ordered by local receipt time: arrival order, not the
// remote side's claimed speech order, is what finalize must preserve.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
