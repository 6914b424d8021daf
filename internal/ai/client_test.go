package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
)

// wireRequest is the generateContent body as it arrives over HTTP.
type wireRequest struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text       string `json:"text"`
			InlineData *struct {
				MIMEType string `json:"mimeType"`
				Data     []byte `json:"data"`
			} `json:"inlineData"`
		} `json:"parts"`
	} `json:"contents"`
	Tools []struct {
		GoogleSearch *struct{} `json:"googleSearch"`
	} `json:"tools"`
	GenerationConfig *struct {
		ResponseMIMEType string   `json:"responseMimeType"`
		Temperature      *float64 `json:"temperature"`
	} `json:"generationConfig"`
}

func modelServer(t *testing.T, reply string, inspect func(r *http.Request, body wireRequest)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body wireRequest
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(r, body)
		}
		resp := map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": reply}}},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), Options{APIKey: "k", BaseURL: srv.URL}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestAnalyze(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "front.png")
	if err := os.WriteFile(img, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	reply := "```json\n" + `{
		"identification": {"brand": "Ross", "model": "NK-3G64", "mpn": "", "compatible_systems": ["NK Series"]},
		"condition": {"state": "Used - Good"},
		"specifications": {"color": "Black", "other_specs": {"Interface": "SDI"}},
		"listing": {"suggested_title": "Ross NK-3G64 3G SDI Router", "description": "Router.", "suggested_price": 450}
	}` + "\n```"

	c := modelServer(t, reply, func(r *http.Request, body wireRequest) {
		if !strings.HasSuffix(r.URL.Path, "models/gemini-2.0-flash:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "k" {
			t.Error("missing api key header")
		}
		if body.GenerationConfig == nil || body.GenerationConfig.ResponseMIMEType != "application/json" {
			t.Error("expected JSON response mime type")
		}
		if len(body.Contents) != 1 {
			t.Fatalf("contents = %d, want 1", len(body.Contents))
		}
		parts := body.Contents[0].Parts
		if len(parts) != 2 || parts[1].InlineData == nil || parts[1].InlineData.MIMEType != "image/png" {
			t.Fatalf("unexpected parts %+v", parts)
		}
		if string(parts[1].InlineData.Data) != "png-bytes" {
			t.Errorf("image data = %q", parts[1].InlineData.Data)
		}
	})

	a, err := c.Analyze(context.Background(), []string{img})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a.Title != "Ross NK-3G64 3G SDI Router" || a.Condition != "Used - Good" || a.PriceHint != "450.00" {
		t.Errorf("unexpected analysis %+v", a)
	}
	if got := a.Specifics["Brand"]; len(got) != 1 || got[0] != "Ross" {
		t.Errorf("Brand = %v", got)
	}
	if _, ok := a.Specifics["MPN"]; ok {
		t.Error("empty MPN should be omitted")
	}
	if got := a.Specifics["Interface"]; len(got) != 1 || got[0] != "SDI" {
		t.Errorf("Interface = %v", got)
	}
}

func TestAnalyze_ErrorPayload(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "a.jpg")
	if err := os.WriteFile(img, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := modelServer(t, `{"error": "photo is blank"}`, nil)

	a, err := c.Analyze(context.Background(), []string{img})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a.Error != "photo is blank" {
		t.Errorf("Error = %q", a.Error)
	}
}

func TestEstimateWithSearch(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  float64
	}{
		{"mid", `{"estimate": {"low": 10, "mid": 14.5, "high": 20}}`, 14.5},
		{"fenced", "```json\n{\"estimate\": {\"low\": 10, \"mid\": 30, \"high\": 40}}\n```", 30},
		{"low high only", `{"estimate": {"low": 10, "high": 20}}`, 15},
		{"free text", "Sold listings range from $1,000 to $1,200.00 recently.", 1100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := modelServer(t, tt.reply, func(_ *http.Request, body wireRequest) {
				if len(body.Tools) != 1 || body.Tools[0].GoogleSearch == nil {
					t.Errorf("expected search tool, got %+v", body.Tools)
				}
				if cfg := body.GenerationConfig; cfg == nil || cfg.Temperature == nil || *cfg.Temperature != 0 {
					t.Error("expected temperature 0")
				}
				if len(body.Contents) == 0 || len(body.Contents[0].Parts) == 0 ||
					!strings.Contains(body.Contents[0].Parts[0].Text, "Widget") {
					t.Error("prompt does not mention the title")
				}
			})
			got, err := c.EstimateWithSearch(context.Background(), "Widget", "New")
			if err != nil {
				t.Fatalf("EstimateWithSearch: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEstimateWithSearch_NoPrice(t *testing.T) {
	c := modelServer(t, "I could not find anything.", nil)
	if _, err := c.EstimateWithSearch(context.Background(), "Widget", ""); err == nil {
		t.Error("expected error when the output has no price")
	}
}

func TestEstimateWithSearch_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	}))
	defer srv.Close()

	c, err := New(context.Background(), Options{APIKey: "bad", BaseURL: srv.URL}, srv.Client(), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.EstimateWithSearch(context.Background(), "Widget", "New")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("want ErrUnauthorized, got %v", err)
	}
}

func TestNew_AppliesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := New(context.Background(), Options{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	if _, err := c.EstimateWithSearch(ctx, "Widget", "New"); err == nil {
		t.Fatal("expected the client timeout to abort the call")
	}
	if ctx.Err() != nil {
		t.Error("call outlived the configured timeout")
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(context.Background(), Options{}, nil, nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("want ErrInvalidInput, got %v", err)
	}
}

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                  `{"a":1}`,
		"```json\n{\"a\":1}\n```":  `{"a":1}`,
		"text ```\n{\"a\":1}``` x": `{"a":1}`,
	}
	for in, want := range tests {
		if got := stripFences(in); got != want {
			t.Errorf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}
