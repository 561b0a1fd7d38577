// Package video wraps the external video generation provider. Jobs are
// asynchronous on the provider side: submit returns a handle, status is
// polled, and finished content is fetched by result reference.
package video

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// SubmitRequest carries everything the provider needs to start a job.
// ReferenceImage, when present, conditions the first frame and must match
// Size exactly.
type SubmitRequest struct {
	Prompt         string
	ReferenceImage []byte
	Size           string
	Seconds        int
}

// JobStatus is the provider's view of a submitted job. ResultRef is only
// meaningful once State reports completion.
type JobStatus struct {
	State     string
	ResultRef string
}

// Generator is the contract consumed by the submission stage, the status
// poller and the settlement worker.
type Generator interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	GetStatus(ctx context.Context, handle string) (JobStatus, error)
	FetchContent(ctx context.Context, resultRef string) ([]byte, string, error)
}

// Options configures the video provider client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client calls the video generation HTTP API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("video: api key is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

type submitPayload struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	Seconds        int    `json:"seconds"`
	InputReference string `json:"input_reference,omitempty"`
}

type jobPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result struct {
		Ref string `json:"ref"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Submit starts a generation job and returns the provider's job handle.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	payload := submitPayload{
		Model:   c.model,
		Prompt:  req.Prompt,
		Size:    req.Size,
		Seconds: req.Seconds,
	}
	if len(req.ReferenceImage) > 0 {
		payload.InputReference = base64.StdEncoding.EncodeToString(req.ReferenceImage)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("video: encode request: %w", err)
	}

	job, err := c.call(ctx, http.MethodPost, "/videos", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", fmt.Errorf("video: provider returned no job id")
	}
	c.logger.Info().Str("handle", job.ID).Str("size", req.Size).Int("seconds", req.Seconds).Msg("video job submitted")
	return job.ID, nil
}

// GetStatus reports the provider-side state of a job.
func (c *Client) GetStatus(ctx context.Context, handle string) (JobStatus, error) {
	job, err := c.call(ctx, http.MethodGet, "/videos/"+url.PathEscape(handle), nil)
	if err != nil {
		return JobStatus{}, err
	}
	return JobStatus{State: job.Status, ResultRef: job.Result.Ref}, nil
}

// FetchContent downloads finished video bytes by result reference and
// returns them with the reported content type.
func (c *Client) FetchContent(ctx context.Context, resultRef string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos/"+url.PathEscape(resultRef)+"/content", nil)
	if err != nil {
		return nil, "", fmt.Errorf("video: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("video: fetch content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, "", fmt.Errorf("video: content status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 512<<20))
	if err != nil {
		return nil, "", fmt.Errorf("video: read content: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	return data, contentType, nil
}

func (c *Client) call(ctx context.Context, method, path string, body io.Reader) (*jobPayload, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("video: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("video: call provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("video: read response: %w", err)
	}
	var job jobPayload
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("video: decode response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if job.Error != nil {
			msg = job.Error.Message
		}
		return nil, fmt.Errorf("video: provider status %d: %s", resp.StatusCode, msg)
	}
	return &job, nil
}

var _ Generator = (*Client)(nil)
