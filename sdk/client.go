// Package ivk provides the InterviewKit SDK for Go.
//
// The SDK drives unattended, time-boxed candidate interviews against the
// remote recruiting platform in two variants: a scripted recorder (fixed
// questions, one captured segment each) and a live conversational session
// whose transcript is finalized exactly once. The Controller is the entry
// point; SessionsService and SubmissionsService are the platform-facing
// collaborators it composes.
package ivk

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/interviewkit/ivk-go/pkg/realtime"
)

const defaultBaseURL = "https://api.interviewkit.dev"

// Client is the main entry point for the SDK.
type Client struct {
	Sessions    *SessionsService
	Submissions *SubmissionsService

	// Internal
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	dial       realtime.DialFunc
}

// NewClient creates a new client. The base URL defaults to the hosted
// platform and can be overridden with WithBaseURL or IVK_BASE_URL.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: newDefaultHTTPClient(),
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/interviewkit/ivk-go"),
		now:        time.Now,
		dial:       realtime.GorillaDial,
	}
	if env := os.Getenv("IVK_BASE_URL"); env != "" {
		c.baseURL = env
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")

	c.Sessions = &SessionsService{client: c}
	c.Submissions = &SubmissionsService{client: c, submitted: make(map[string]bool)}
	return c
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL + "/v1/interview/sessions/" + strings.Join(parts, "/")
}

// startSpan opens a tracing span when a tracer is configured; otherwise the
// returned end func is a no-op.
func (c *Client) startSpan(ctx context.Context, name string) (context.Context, func()) {
	if c.tracer == nil {
		return ctx, func() {}
	}
	ctx, span := c.tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}
