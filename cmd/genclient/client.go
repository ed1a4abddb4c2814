package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// apiClient talks to a running capforge API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

type generateOptions struct {
	MaxTokens int    `json:"maxTokens,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

type generateRequest struct {
	Prompt   string          `json:"prompt"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Options  generateOptions `json:"options"`
}

type jobStatus struct {
	Status string          `json:"status"`
	Step   string          `json:"step,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// signToken creates a short-lived HS256 bearer token for subject.
func signToken(secret, subject string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func decode(resp *http.Response, want int, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		return &apiError{Status: resp.StatusCode, Body: string(body)}
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// submit queues a job and returns its id.
func (c *apiClient) submit(ctx context.Context, req generateRequest) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/generate", req)
	if err != nil {
		return "", err
	}
	var accepted struct {
		JobID string `json:"jobId"`
	}
	if err := decode(resp, http.StatusAccepted, &accepted); err != nil {
		return "", err
	}
	return accepted.JobID, nil
}

// legacy runs a synchronous DSL generation and returns the raw body.
func (c *apiClient) legacy(ctx context.Context, req generateRequest) (json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodPost, "/generate", req)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := decode(resp, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) job(ctx context.Context, id string) (*jobStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/jobs/"+id, nil)
	if err != nil {
		return nil, err
	}
	var st jobStatus
	if err := decode(resp, http.StatusOK, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// poll waits for the job to leave the running state, reporting step changes.
func (c *apiClient) poll(ctx context.Context, id string, interval time.Duration, onStep func(string)) (*jobStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastStep := ""
	for {
		st, err := c.job(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Status != "running" {
			return st, nil
		}
		if st.Step != lastStep {
			lastStep = st.Step
			onStep(st.Step)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for job %s (last step %q): %w", id, lastStep, ctx.Err())
		case <-ticker.C:
		}
	}
}

type sseEvent struct {
	Name string
	Data string
}

// stream posts to the SSE endpoint and calls onEvent for every event.
func (c *apiClient) stream(ctx context.Context, req generateRequest, onEvent func(sseEvent)) error {
	resp, err := c.do(ctx, http.MethodPost, "/generate/stream", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &apiError{Status: resp.StatusCode, Body: string(body)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var ev sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.Name != "" {
				onEvent(ev)
			}
			ev = sseEvent{}
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.Data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if ev.Name != "" {
		onEvent(ev)
	}
	return scanner.Err()
}
