// Package textservice talks to the external translation and reply
// generation service over HTTP.
//
// Every call is a fresh request bounded by the client's timeout. Calls are
// never retried here.
package textservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 512

// Error kinds. Match with errors.Is.
var (
	ErrUnavailable = errors.New("text service unavailable")
	ErrRejected    = errors.New("text service rejected request")
	ErrUnexpected  = errors.New("text service failure")
)

// Error describes a failed call to the text service.
type Error struct {
	Op         string
	Kind       error
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

type translateRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
}

type replyRequest struct {
	Text string `json:"text"`
}

type replyResponse struct {
	Reply string `json:"reply"`
}

// Client is stateless beyond its configuration and safe for concurrent use.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// Translate returns text translated by the service. hint is an optional
// source language hint.
func (c *Client) Translate(ctx context.Context, text, hint string) (string, error) {
	var resp translateResponse
	if err := c.post(ctx, "translate", "/translate", translateRequest{Text: text, Language: hint}, &resp); err != nil {
		return "", err
	}
	if resp.TranslatedText == "" {
		return "", &Error{Op: "translate", Kind: ErrUnexpected, Err: errors.New("empty translated_text")}
	}
	return resp.TranslatedText, nil
}

func (c *Client) GenerateReply(ctx context.Context, text string) (string, error) {
	var resp replyResponse
	if err := c.post(ctx, "generate reply", "/reply", replyRequest{Text: text}, &resp); err != nil {
		return "", err
	}
	if resp.Reply == "" {
		return "", &Error{Op: "generate reply", Kind: ErrUnexpected, Err: errors.New("empty reply")}
	}
	return resp.Reply, nil
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Op: op, Kind: ErrUnexpected, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Op: op, Kind: ErrUnexpected, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &Error{Op: op, Kind: ErrUnavailable, Err: fmt.Errorf("timed out after %s", c.timeout)}
		}
		return &Error{Op: op, Kind: ErrUnavailable, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: op, Kind: ErrUnavailable, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &Error{Op: op, Kind: ErrRejected, StatusCode: resp.StatusCode, Err: statusError(resp.StatusCode, respBody)}
	case resp.StatusCode >= 500:
		return &Error{Op: op, Kind: ErrUnavailable, StatusCode: resp.StatusCode, Err: statusError(resp.StatusCode, respBody)}
	default:
		return &Error{Op: op, Kind: ErrUnexpected, StatusCode: resp.StatusCode, Err: statusError(resp.StatusCode, respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Op: op, Kind: ErrUnexpected, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusError(code int, body []byte) error {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	if text == "" {
		return fmt.Errorf("status %d", code)
	}
	return fmt.Errorf("status %d: %s", code, text)
}
