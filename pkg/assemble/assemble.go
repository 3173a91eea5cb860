// Package assemble combines per-question recorded segments into one
// submission-ready artifact.
package assemble

import (
	"time"

	"github.com/interviewkit/ivk-go/pkg/capture"
	"github.com/interviewkit/ivk-go/pkg/core"
	"github.com/interviewkit/ivk-go/pkg/core/types"
)

// Artifact is the assembled recording: one WAV container plus a manifest the
// analysis side uses to split it back into per-question answers.
type Artifact struct {
	WAV      []byte
	Manifest Manifest
}

// Manifest locates each question's answer inside the artifact PCM payload.
// Offsets are relative to the start of the PCM data, not the container.
type Manifest struct {
	SessionID string          `json:"session_id"`
	Format    ManifestFormat  `json:"format"`
	Entries   []ManifestEntry `json:"entries"`
}

type ManifestFormat struct {
	SampleRateHz int `json:"sample_rate_hz"`
	Channels     int `json:"channels"`
}

type ManifestEntry struct {
	QuestionID      string  `json:"question_id"`
	ByteOffset      int     `json:"byte_offset"`
	ByteLength      int     `json:"byte_length"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Assemble concatenates segment payloads in question order — not recording
// order, since questions may be re-recorded out of sequence. Every question
// must have exactly one segment; otherwise it fails with incomplete_responses
// naming the missing question ids, in question order.
func Assemble(session *types.InterviewSession, segments map[string]types.RecordedSegment, format capture.Format) (*Artifact, error) {
	if session == nil {
		return nil, core.NewInvalidRequestError("session must not be nil")
	}
	if session.Mode != types.ModeScripted {
		return nil, core.NewInvalidRequestError("only scripted sessions produce an artifact")
	}

	var missing []string
	for _, q := range session.Questions {
		if _, ok := segments[q.ID]; !ok {
			missing = append(missing, q.ID)
		}
	}
	if len(missing) > 0 {
		return nil, core.NewIncompleteResponsesError(missing)
	}

	var pcm []byte
	manifest := Manifest{
		SessionID: session.ID,
		Format: ManifestFormat{
			SampleRateHz: format.SampleRateHz,
			Channels:     format.Channels,
		},
		Entries: make([]ManifestEntry, 0, len(session.Questions)),
	}
	for _, q := range session.Questions {
		seg := segments[q.ID]
		manifest.Entries = append(manifest.Entries, ManifestEntry{
			QuestionID:      q.ID,
			ByteOffset:      len(pcm),
			ByteLength:      len(seg.PCM),
			DurationSeconds: seg.Duration.Seconds(),
		})
		pcm = append(pcm, seg.PCM...)
	}

	return &Artifact{
		WAV:      capture.EncodeWAV(pcm, format),
		Manifest: manifest,
	}, nil
}

// TotalDuration sums the per-entry durations.
func (m Manifest) TotalDuration() time.Duration {
	var total float64
	for _, e := range m.Entries {
		total += e.DurationSeconds
	}
	return time.Duration(total * float64(time.Second))
}
