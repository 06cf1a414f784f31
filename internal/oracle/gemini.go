// File: internal/oracle/gemini.go
package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skua-labs/deskpilot/internal/config"
	"github.com/skua-labs/deskpilot/internal/screen"
)

const systemPrompt = `You locate user interface elements in screenshots.
Given a screenshot and a description of one element, reply with a single JSON
object {"x": <int>, "y": <int>, "confidence": <0..1>} giving the pixel
coordinates of the element's center in the screenshot. Reply with exactly
{"x": -1, "y": -1, "confidence": 0} if the element is not visible.`

// GeminiLocator implements Locator against the Gemini generateContent API.
// Requests are paced by a shared limiter so a tight resolution loop cannot
// burn through the quota.
type GeminiLocator struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.OracleConfig
	limiter    *rate.Limiter
}

// -- Gemini API request/response structures --

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlobPart `json:"inline_data,omitempty"`
}

type geminiBlobPart struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float32 `json:"temperature"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiLocator initializes the client.
func NewGeminiLocator(cfg config.OracleConfig, logger *zap.Logger) (*GeminiLocator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	perSecond := cfg.RequestsPerMinute / 60.0
	return &GeminiLocator{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		config:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:  logger.Named("oracle.gemini"),
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}, nil
}

// Locate sends the frame and target description to the model. The frame is
// downscaled before upload; the returned guess is mapped back to the frame's
// native coordinate space.
func (c *GeminiLocator) Locate(ctx context.Context, frame *screen.Frame, target string) (*Guess, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("oracle pacing: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	scaled, scale := screen.Downscale(frame, c.config.MaxImageDim)
	encoded, err := screen.EncodePNG(scaled)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	body, err := json.Marshal(c.buildRequestPayload(encoded, target))
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.config.Timeout
	b.MaxInterval = 2 * time.Second

	var reply string

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create HTTP request: %w", err))
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Network error during oracle request, retrying...", zap.Error(err))
			return fmt.Errorf("execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload geminiResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response payload: %w", err))
		}

		if len(responsePayload.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("oracle returned no candidates"))
		}

		candidate := responsePayload.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			return fmt.Errorf("oracle returned empty content parts (reason: %s)", candidate.FinishReason)
		}

		c.logger.Debug("Oracle reply received",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
		)

		reply = candidate.Content.Parts[0].Text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}

	guess, err := ParseGuess(reply)
	if err != nil {
		return nil, err
	}
	if guess == nil {
		return nil, nil // model reported the element not visible
	}

	// Map back from the downscaled image to frame coordinates.
	guess.X = int(float64(guess.X) / scale)
	guess.Y = int(float64(guess.Y) / scale)
	return guess, nil
}

func (c *GeminiLocator) buildRequestPayload(png []byte, target string) geminiRequestPayload {
	return geminiRequestPayload{
		Contents: []geminiContent{
			{
				Role: "user",
				Parts: []geminiPart{
					{InlineData: &geminiBlobPart{
						MimeType: "image/png",
						Data:     base64.StdEncoding.EncodeToString(png),
					}},
					{Text: fmt.Sprintf("Locate this element: %s", target)},
				},
			},
		},
		SystemInstruction: &geminiSystemInstruction{
			Parts: []geminiPart{{Text: systemPrompt}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      c.config.Temperature,
			ResponseMimeType: "application/json",
			MaxOutputTokens:  64,
		},
	}
}

func (c *GeminiLocator) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Oracle API returned error status", zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("oracle API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // transient, retry
	default:
		return backoff.Permanent(err)
	}
}
