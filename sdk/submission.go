package ivk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"

	"github.com/google/uuid"

	"github.com/interviewkit/ivk-go/pkg/assemble"
	"github.com/interviewkit/ivk-go/pkg/core"
	"github.com/interviewkit/ivk-go/pkg/core/types"
)

// SubmissionsService hands completed work to the remote analysis service:
// the assembled artifact for scripted interviews, the finalized transcript
// for conversational ones.
//
// The orchestrator's finalize latch already guarantees at most one call per
// session, so the service need not be idempotent. It still treats a duplicate
// call from a stale retained reference as a no-op, so a downstream billing
// system is never charged twice. A client-side X-Idempotency-Key backs the
// same guarantee on the wire.
type SubmissionsService struct {
	client *Client

	mu        sync.Mutex
	submitted map[string]bool
}

// SubmitArtifact uploads the assembled scripted-interview recording as a
// multipart form: the WAV bytes in the artifact part and the per-question
// manifest in the manifest part. A duplicate call for an already-submitted
// session is a no-op.
func (s *SubmissionsService) SubmitArtifact(ctx context.Context, sessionID string, artifact *assemble.Artifact) error {
	if sessionID == "" {
		return core.NewInvalidRequestErrorWithParam("session id must not be empty", "session_id")
	}
	if artifact == nil || len(artifact.WAV) == 0 {
		return core.NewInvalidRequestError("artifact must not be empty")
	}
	if s.alreadySubmitted(sessionID) {
		s.client.logger.Info("artifact already submitted, skipping", "session_id", sessionID)
		return nil
	}
	ctx, end := s.client.startSpan(ctx, "ivk.submissions.submit_artifact")
	defer end()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="artifact"; filename="submission.wav"`)
	header.Set("Content-Type", "audio/wav")
	filePart, err := form.CreatePart(header)
	if err != nil {
		return core.NewAPIError(fmt.Sprintf("build upload form: %v", err))
	}
	if _, err := filePart.Write(artifact.WAV); err != nil {
		return core.NewAPIError(fmt.Sprintf("build upload form: %v", err))
	}

	manifestPart, err := form.CreateFormField("manifest")
	if err != nil {
		return core.NewAPIError(fmt.Sprintf("build upload form: %v", err))
	}
	if err := json.NewEncoder(manifestPart).Encode(artifact.Manifest); err != nil {
		return core.NewAPIError(fmt.Sprintf("encode manifest: %v", err))
	}
	if err := form.Close(); err != nil {
		return core.NewAPIError(fmt.Sprintf("build upload form: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.endpoint(sessionID, "artifact"), &buf)
	if err != nil {
		return core.NewInvalidRequestError(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("X-Idempotency-Key", uuid.NewString())

	if _, err := s.client.do(req); err != nil {
		return err
	}
	s.markSubmitted(sessionID)
	s.client.logger.Info("artifact submitted",
		"session_id", sessionID,
		"bytes", len(artifact.WAV),
		"segments", len(artifact.Manifest.Entries))
	return nil
}

// FinalizeConversation posts the full client-observed transcript in receipt
// order. The remote side may already hold its own copy; the client transcript
// is authoritative for client-side analysis. A duplicate call for an
// already-finalized session is a no-op.
func (s *SubmissionsService) FinalizeConversation(ctx context.Context, sessionID, conversationRef string, transcript []types.TranscriptEntry) error {
	if sessionID == "" {
		return core.NewInvalidRequestErrorWithParam("session id must not be empty", "session_id")
	}
	if s.alreadySubmitted(sessionID) {
		s.client.logger.Info("conversation already finalized, skipping", "session_id", sessionID)
		return nil
	}
	ctx, end := s.client.startSpan(ctx, "ivk.submissions.finalize_conversation")
	defer end()

	payload := struct {
		ConversationRef string                  `json:"conversation_ref"`
		Transcript      []types.TranscriptEntry `json:"transcript"`
	}{ConversationRef: conversationRef, Transcript: transcript}

	if _, err := s.client.doJSON(ctx, http.MethodPost, s.client.endpoint(sessionID, "finalize"), payload); err != nil {
		return err
	}
	s.markSubmitted(sessionID)
	s.client.logger.Info("conversation finalized",
		"session_id", sessionID,
		"conversation_ref", conversationRef,
		"entries", len(transcript))
	return nil
}

func (s *SubmissionsService) alreadySubmitted(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted[sessionID]
}

func (s *SubmissionsService) markSubmitted(sessionID string) {
	s.mu.Lock()
	s.submitted[sessionID] = true
	s.mu.Unlock()
}
