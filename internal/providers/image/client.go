// Package image wraps the external still-image provider used to render the
// optional keyframe that conditions the video stage.
package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Family tags the provider capability variant. Each family renders a fixed
// set of output sizes; a keyframe is only useful when the family can produce
// the exact video frame size.
type Family string

const (
	FamilyGPTImage  Family = "gpt-image"
	FamilyDiffusion Family = "diffusion"
)

// SupportedSizes maps a family onto the output sizes it can render.
func (f Family) SupportedSizes() []string {
	switch f {
	case FamilyGPTImage:
		return []string{"1024x1024", "1024x1536", "1536x1024"}
	case FamilyDiffusion:
		return []string{"720x1280", "1280x720", "1024x1024"}
	default:
		return nil
	}
}

// Supports reports whether the family renders the exact size.
func (f Family) Supports(size string) bool {
	for _, s := range f.SupportedSizes() {
		if s == size {
			return true
		}
	}
	return false
}

// Generator is the contract consumed by the keyframe stage.
type Generator interface {
	Generate(ctx context.Context, prompt, size string) ([]byte, error)
	SupportedSizes() []string
}

// Options configures the image provider client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Family     Family
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client calls the image generation HTTP API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	family     Family
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("image: api key is required")
	}
	if len(opts.Family.SupportedSizes()) == 0 {
		return nil, fmt.Errorf("image: unknown provider family %q", opts.Family)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		family:     opts.Family,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// SupportedSizes exposes the configured family's capability.
func (c *Client) SupportedSizes() []string {
	return c.family.SupportedSizes()
}

type generateRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type generateResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate renders one image at the exact size and returns the decoded
// bytes. The caller bounds the call with a context deadline.
func (c *Client) Generate(ctx context.Context, prompt, size string) ([]byte, error) {
	payload, err := json.Marshal(generateRequest{
		Model:          c.model,
		Prompt:         prompt,
		Size:           size,
		N:              1,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, fmt.Errorf("image: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("image: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image: call provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("image: read response: %w", err)
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("image: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return nil, fmt.Errorf("image: provider status %d: %s", resp.StatusCode, msg)
	}
	if len(decoded.Data) == 0 || decoded.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("image: provider returned no image data")
	}

	raw, err := base64.StdEncoding.DecodeString(decoded.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("image: decode image payload: %w", err)
	}
	c.logger.Debug().Int("bytes", len(raw)).Str("size", size).Msg("image generated")
	return raw, nil
}

var _ Generator = (*Client)(nil)
