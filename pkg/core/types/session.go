package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode selects the interview variant.
type Mode string

const (
	// ModeScripted is the fixed-question recorder variant: every question is
	// answered with one bounded media segment under a countdown.
	ModeScripted Mode = "scripted"
	// ModeConversational is the continuous two-way voice exchange variant.
	ModeConversational Mode = "conversational"
)

// InterviewSession is the session descriptor returned by the platform for a
// candidate access token. It is loaded once and never persisted client-side.
type InterviewSession struct {
	ID              string     `json:"id"`
	Mode            Mode       `json:"mode"`
	Status          string     `json:"status"`
	DurationMinutes int        `json:"duration_minutes"`
	Questions       []Question `json:"questions,omitempty"`
}

// DecodeError is returned when session payload decoding fails. It includes an
// optional Param field suitable for error reporting.
type DecodeError struct {
	Param   string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Param != "" {
		return fmt.Sprintf("%s: %s", e.Param, e.Message)
	}
	return e.Message
}

func decodeErr(param, msg string) error {
	return &DecodeError{Param: param, Message: msg}
}

// UnmarshalInterviewSession decodes and validates a session payload.
// Scripted sessions must carry at least one question; question ids must be
// unique because segments are keyed by them.
func UnmarshalInterviewSession(data []byte) (*InterviewSession, error) {
	var s InterviewSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode interview session: %w", err)
	}

	if strings.TrimSpace(s.ID) == "" {
		return nil, decodeErr("id", "must not be empty")
	}
	switch s.Mode {
	case ModeScripted, ModeConversational:
	default:
		return nil, decodeErr("mode", fmt.Sprintf("unknown mode %q", s.Mode))
	}

	if s.Mode == ModeScripted {
		if len(s.Questions) == 0 {
			return nil, decodeErr("questions", "scripted session has no questions")
		}
		seen := make(map[string]struct{}, len(s.Questions))
		for i, q := range s.Questions {
			param := fmt.Sprintf("questions[%d]", i)
			if strings.TrimSpace(q.ID) == "" {
				return nil, decodeErr(param+".id", "must not be empty")
			}
			if _, dup := seen[q.ID]; dup {
				return nil, decodeErr(param+".id", fmt.Sprintf("duplicate question id %q", q.ID))
			}
			seen[q.ID] = struct{}{}
			if !validQuestionType(q.Type) {
				return nil, decodeErr(param+".type", fmt.Sprintf("unknown question type %q", q.Type))
			}
			if q.TimeLimitSeconds <= 0 {
				return nil, decodeErr(param+".time_limit_seconds", "must be positive")
			}
		}
	}

	return &s, nil
}

// QuestionByID returns the question with the given id, or nil.
func (s *InterviewSession) QuestionByID(id string) *Question {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return &s.Questions[i]
		}
	}
	return nil
}
