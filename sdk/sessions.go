package ivk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/interviewkit/ivk-go/pkg/core"
	"github.com/interviewkit/ivk-go/pkg/core/types"
)

// SessionsService loads interview sessions and issues realtime connection
// descriptors.
type SessionsService struct {
	client *Client
}

// Get loads the session behind an access token. An invalid token maps to
// not_found and a consumed or timed-out link maps to expired; both are
// terminal, there is no recovery path.
func (s *SessionsService) Get(ctx context.Context, token string) (*types.InterviewSession, error) {
	if token == "" {
		return nil, core.NewInvalidRequestErrorWithParam("token must not be empty", "token")
	}
	ctx, end := s.client.startSpan(ctx, "ivk.sessions.get")
	defer end()

	body, err := s.client.doJSON(ctx, http.MethodGet, s.client.endpoint(token), nil)
	if err != nil {
		return nil, err
	}
	session, err := types.UnmarshalInterviewSession(body)
	if err != nil {
		return nil, core.NewAPIError(fmt.Sprintf("malformed session payload: %v", err))
	}
	return session, nil
}

// CreateRealtime requests a one-time connect URL for the conversational
// variant. The URL is single-use; a second connect attempt needs a new one.
func (s *SessionsService) CreateRealtime(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", core.NewInvalidRequestErrorWithParam("token must not be empty", "token")
	}
	ctx, end := s.client.startSpan(ctx, "ivk.sessions.create_realtime")
	defer end()

	body, err := s.client.doJSON(ctx, http.MethodPost, s.client.endpoint(token, "realtime"), nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		ConnectURL string `json:"connect_url"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", core.NewAPIError(fmt.Sprintf("malformed realtime payload: %v", err))
	}
	if resp.ConnectURL == "" {
		return "", core.NewAPIError("realtime payload missing connect_url")
	}
	return resp.ConnectURL, nil
}

// doJSON issues a request with an optional JSON body and returns the response
// body on 2xx. Non-2xx statuses map onto the error taxonomy.
func (c *Client) doJSON(ctx context.Context, method, url string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, core.NewInvalidRequestError(fmt.Sprintf("encode request: %v", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, core.NewInvalidRequestError(fmt.Sprintf("build request: %v", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &core.TransportError{Op: req.Method, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &core.TransportError{Op: req.Method, URL: req.URL.String(), Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, c.errorFromStatus(resp.StatusCode, body)
}

func (c *Client) errorFromStatus(status int, body []byte) error {
	switch status {
	case http.StatusNotFound:
		return core.NewNotFoundError("interview session not found")
	case http.StatusGone:
		return core.NewExpiredError("interview session link has expired")
	case http.StatusForbidden:
		return core.NewPermissionDeniedError("access to this session was refused")
	case http.StatusConflict:
		return core.NewConflictError("session is in a conflicting state")
	}

	// The platform wraps errors in {"error": {...}}; surface its message when
	// the envelope is present.
	var envelope struct {
		Error *core.Error `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return envelope.Error
	}
	return core.NewAPIError(fmt.Sprintf("unexpected status %d", status))
}
