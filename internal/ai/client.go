package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
)

const (
	DefaultModel   = "gemini-2.0-flash"
	defaultTimeout = 90 * time.Second
)

// Options configures the model client. An empty BaseURL uses the SDK's
// Gemini API endpoint.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client calls a multimodal Gemini model through the genai SDK.
// It implements the image analyzer and the search-grounded price estimator.
type Client struct {
	genai  *genai.Client
	model  string
	logger *slog.Logger
}

// New creates a Client. An empty API key is rejected. httpClient may be nil,
// in which case one with opts.Timeout is built.
func New(ctx context.Context, opts Options, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("ai client: %w: api key is required", domain.ErrInvalidInput)
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      opts.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: opts.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("ai client: %w", err)
	}
	return &Client{
		genai:  gc,
		model:  opts.Model,
		logger: logger.With("component", "ai"),
	}, nil
}

// Analyze sends the product photos to the model and returns the structured
// listing analysis. A payload the model marks as an error is returned with
// Analysis.Error set, not as a Go error.
func (c *Client) Analyze(ctx context.Context, images []string) (*domain.Analysis, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("analyze: %w: no images", domain.ErrInvalidInput)
	}

	parts := []*genai.Part{genai.NewPartFromText(analysisPrompt)}
	for _, img := range images {
		data, err := os.ReadFile(img)
		if err != nil {
			return nil, fmt.Errorf("analyze: read %s: %w", filepath.Base(img), err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, imageMimeType(img)))
	}

	text, err := c.generate(ctx, parts, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	var raw analysisPayload
	if err := json.Unmarshal([]byte(stripFences(text)), &raw); err != nil {
		return nil, fmt.Errorf("analyze: decode model output: %w", err)
	}
	a := raw.toAnalysis()
	c.logger.Info("images analyzed", "count", len(images), "title", a.Title)
	return a, nil
}

// EstimateWithSearch asks the model to research the item with web search and
// returns its mid price estimate.
func (c *Client) EstimateWithSearch(ctx context.Context, title, condition string) (float64, error) {
	if strings.TrimSpace(title) == "" {
		return 0, fmt.Errorf("estimate: %w: empty title", domain.ErrInvalidInput)
	}
	if condition == "" {
		condition = "Used"
	}

	prompt := fmt.Sprintf(estimatePrompt, title, condition)
	text, err := c.generate(ctx, []*genai.Part{genai.NewPartFromText(prompt)}, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
		Tools:       []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	})
	if err != nil {
		return 0, fmt.Errorf("estimate: %w", err)
	}

	price, err := parseEstimate(text)
	if err != nil {
		return 0, fmt.Errorf("estimate %q: %w", title, err)
	}
	c.logger.Info("price estimated", "title", title, "price", price)
	return price, nil
}

func (c *Client) generate(ctx context.Context, parts []*genai.Part, config *genai.GenerateContentConfig) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	start := time.Now()
	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, config)
	c.logger.Debug("model call", "model", c.model, "duration_ms", time.Since(start).Milliseconds(), "error", err)
	if err != nil {
		if code := apiStatus(err); code == http.StatusUnauthorized || code == http.StatusForbidden {
			return "", errors.Join(domain.ErrUnauthorized, err)
		}
		return "", fmt.Errorf("call model: %w", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("model returned no text")
	}
	return text, nil
}

// apiStatus returns the HTTP status carried by an SDK error, or 0.
func apiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}

// stripFences removes a surrounding markdown code block, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
	} else {
		return s
	}
	if j := strings.Index(s, "```"); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}

var dollarAmount = regexp.MustCompile(`\$[\d,]+(?:\.\d{2})?`)

func parseEstimate(text string) (float64, error) {
	var out struct {
		Estimate struct {
			Low  json.Number `json:"low"`
			Mid  json.Number `json:"mid"`
			High json.Number `json:"high"`
		} `json:"estimate"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &out); err == nil {
		if mid, err := out.Estimate.Mid.Float64(); err == nil && mid > 0 {
			return mid, nil
		}
		low, errLow := out.Estimate.Low.Float64()
		high, errHigh := out.Estimate.High.Float64()
		if errLow == nil && errHigh == nil && low > 0 && high > 0 {
			return (low + high) / 2, nil
		}
	}

	// Free text: average every dollar amount mentioned.
	var sum float64
	var n int
	for _, m := range dollarAmount.FindAllString(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimPrefix(m, "$"), ",", ""), 64)
		if err != nil || v <= 0 {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, errors.New("no price in model output")
	}
	return sum / float64(n), nil
}

func imageMimeType(file string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(file))); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}
