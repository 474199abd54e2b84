package coordinator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/studyflowlab/studyflow/internal/replica"
)

// Client is the HTTP client for the coordinator API. It satisfies
// replica.Coordinator.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the coordinator at baseURL. The status and
// write calls carry a request timeout; the event stream does not, since it
// is long-lived.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateSession registers a new session and returns its ID.
func (c *Client) CreateSession(ctx context.Context, experiment string) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	err := c.postJSON(ctx, "/api/sessions/create", map[string]string{"experiment": experiment}, &resp)
	if err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// SessionStatus answers a reconciliation poll.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (replica.Snapshot, error) {
	u := fmt.Sprintf("%s/api/status?session_id=%s", c.baseURL, url.QueryEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return replica.Snapshot{}, fmt.Errorf("build status request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return replica.Snapshot{}, fmt.Errorf("session status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return replica.Snapshot{}, fmt.Errorf("session status: %s", readError(resp))
	}
	var snap replica.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return replica.Snapshot{}, fmt.Errorf("decode status: %w", err)
	}
	return snap, nil
}

// CompleteProcedure records a procedure completion.
func (c *Client) CompleteProcedure(ctx context.Context, sessionID string, index int, metadata any) error {
	body := map[string]any{"session_id": sessionID, "completed": index}
	if metadata != nil {
		body["metadata"] = metadata
	}
	return c.postJSON(ctx, "/api/complete-procedure", body, nil)
}

// SetCurrentProcedure moves the current-procedure pointer. jump must be set
// for any non-forward move.
func (c *Client) SetCurrentProcedure(ctx context.Context, sessionID string, index int, jump bool) error {
	return c.postJSON(ctx, "/api/current-procedure", setCurrentRequest{
		SessionID: sessionID,
		Index:     index,
		Jump:      jump,
	}, nil)
}

// RegisterParticipant flags the participant as present.
func (c *Client) RegisterParticipant(ctx context.Context, sessionID string) error {
	return c.postJSON(ctx, "/api/register", sessionIDRequest{SessionID: sessionID}, nil)
}

// Terminate ends the session.
func (c *Client) Terminate(ctx context.Context, sessionID string) error {
	return c.postJSON(ctx, "/api/terminate", sessionIDRequest{SessionID: sessionID}, nil)
}

// Subscribe consumes the SSE push stream, invoking handle per event, until
// the stream drops or ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, sessionID string, handle func(replica.PushEvent)) error {
	u := fmt.Sprintf("%s/api/events?session_id=%s", c.baseURL, url.QueryEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build events request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout here: the stream stays open for the whole session.
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscribe: %s", readError(resp))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var ev replica.PushEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		handle(ev)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event stream: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", path, readError(resp))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func readError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, msg)
}
