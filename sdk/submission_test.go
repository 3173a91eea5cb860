package ivk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/interviewkit/ivk-go/pkg/assemble"
	"github.com/interviewkit/ivk-go/pkg/core/types"
)

func testArtifact() *assemble.Artifact {
	return &assemble.Artifact{
		WAV: []byte("RIFFfake-wav-bytes"),
		Manifest: assemble.Manifest{
			SessionID: "sess_1",
			Format:    assemble.ManifestFormat{SampleRateHz: 16000, Channels: 1},
			Entries: []assemble.ManifestEntry{
				{QuestionID: "q1", ByteOffset: 0, ByteLength: 4, DurationSeconds: 2},
			},
		},
	}
}

func TestSubmitArtifact(t *testing.T) {
	var calls atomic.Int32
	var gotIdempotencyKey string
	var gotManifest assemble.Manifest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/interview/sessions/sess_1/artifact" {
			t.Errorf("path=%s", r.URL.Path)
		}
		gotIdempotencyKey = r.Header.Get("X-Idempotency-Key")

		if err := r.ParseMultipartForm(8 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		file, header, err := r.FormFile("artifact")
		if err != nil {
			t.Errorf("artifact part: %v", err)
			return
		}
		defer file.Close()
		if header.Filename != "submission.wav" {
			t.Errorf("filename=%q", header.Filename)
		}
		wav, _ := io.ReadAll(file)
		if string(wav) != "RIFFfake-wav-bytes" {
			t.Errorf("wav bytes = %q", wav)
		}
		if err := json.Unmarshal([]byte(r.FormValue("manifest")), &gotManifest); err != nil {
			t.Errorf("manifest part: %v", err)
		}
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	if err := client.Submissions.SubmitArtifact(context.Background(), "sess_1", testArtifact()); err != nil {
		t.Fatalf("SubmitArtifact: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d", calls.Load())
	}
	if gotIdempotencyKey == "" {
		t.Fatal("idempotency key missing")
	}
	if len(gotManifest.Entries) != 1 || gotManifest.Entries[0].QuestionID != "q1" {
		t.Fatalf("manifest = %+v", gotManifest)
	}

	// Duplicate call from a stale retained reference is a no-op.
	if err := client.Submissions.SubmitArtifact(context.Background(), "sess_1", testArtifact()); err != nil {
		t.Fatalf("duplicate SubmitArtifact: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("duplicate call reached the server, calls=%d", calls.Load())
	}
}

func TestFinalizeConversation(t *testing.T) {
	var calls atomic.Int32
	var got struct {
		ConversationRef string                  `json:"conversation_ref"`
		Transcript      []types.TranscriptEntry `json:"transcript"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/interview/sessions/sess_2/finalize" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer srv.Close()

	transcript := []types.TranscriptEntry{
		{Role: types.RoleAssistant, Content: "Hello.", Timestamp: time.Unix(1, 0)},
		{Role: types.RoleCandidate, Content: "Hi.", Timestamp: time.Unix(2, 0)},
	}

	client := NewClient(WithBaseURL(srv.URL))
	if err := client.Submissions.FinalizeConversation(context.Background(), "sess_2", "conv_9", transcript); err != nil {
		t.Fatalf("FinalizeConversation: %v", err)
	}
	if got.ConversationRef != "conv_9" || len(got.Transcript) != 2 {
		t.Fatalf("payload = %+v", got)
	}
	if got.Transcript[0].Content != "Hello." || got.Transcript[1].Content != "Hi." {
		t.Fatal("transcript order not preserved")
	}

	if err := client.Submissions.FinalizeConversation(context.Background(), "sess_2", "conv_9", transcript); err != nil {
		t.Fatalf("duplicate FinalizeConversation: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("duplicate call reached the server, calls=%d", calls.Load())
	}
}

func TestSubmitArtifact_FailureIsRetryable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	if err := client.Submissions.SubmitArtifact(context.Background(), "sess_3", testArtifact()); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	// A failed attempt must not mark the session submitted.
	if err := client.Submissions.SubmitArtifact(context.Background(), "sess_3", testArtifact()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls=%d", calls.Load())
	}
}
