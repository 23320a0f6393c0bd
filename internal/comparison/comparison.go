// Package comparison produces price comparisons for a product across the
// selected stores. Mock and Gemini variants satisfy the same Service.
package comparison

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sakif/smartbot/internal/metrics"
)

// Provider names accepted by configuration.
const (
	ProviderMock   = "mock"
	ProviderGemini = "gemini"
)

// FallbackText replaces model output that could not be read.
const FallbackText = "I found some information, but couldn't format the comparison. Please try rephrasing your request."

// Service answers a product prompt for the named stores.
//
// Implementations must honour ctx: the chat layer gives each call a
// deadline and expects the call to return when it passes. A nil error
// with a nil Data is a valid text-only answer.
type Service interface {
	GenerateComparison(ctx context.Context, prompt string, storeNames []string) (*Result, error)
}

// Result is one comparison reply. Data is nil for text-only replies.
type Result struct {
	Text string `json:"text"`
	Data *Data  `json:"comparisonData,omitempty"`
}

// Data is the structured part of a reply, rendered as a price table. The
// JSON names are the ones the model is instructed to produce.
type Data struct {
	ProductName     string       `json:"productName"`
	ProductImage    string       `json:"productImage"`
	Stores          []StorePrice `json:"stores"`
	Recommendations []string     `json:"recommendations"`
}

// StorePrice is one row of the table. Currency is a display code ("RM").
type StorePrice struct {
	StoreName string  `json:"storeName"`
	StoreIcon string  `json:"storeIcon"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
}

// ParseResult reads a model reply. JSON replies, bare or inside a code
// fence, become structured results; prose becomes a text-only result; any
// JSON that does not decode becomes FallbackText.
func ParseResult(raw string) *Result {
	body := stripFence(strings.TrimSpace(raw))
	if body == "" {
		return &Result{Text: FallbackText}
	}
	if !strings.HasPrefix(body, "{") {
		return &Result{Text: body}
	}

	var r Result
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return &Result{Text: FallbackText}
	}
	if r.Data != nil && len(r.Data.Stores) == 0 {
		r.Data = nil
	}
	if strings.TrimSpace(r.Text) == "" {
		if r.Data == nil {
			return &Result{Text: FallbackText}
		}
		r.Text = "Here is a price comparison for \"" + r.Data.ProductName + "\" from your selected stores."
	}
	return &r
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // language tag
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Instrumented records call counts and latency for svc under name.
type Instrumented struct {
	svc  Service
	name string
	rec  metrics.Recorder
}

func NewInstrumented(svc Service, name string, rec metrics.Recorder) *Instrumented {
	return &Instrumented{svc: svc, name: name, rec: rec}
}

func (i *Instrumented) GenerateComparison(ctx context.Context, prompt string, storeNames []string) (*Result, error) {
	start := time.Now()
	res, err := i.svc.GenerateComparison(ctx, prompt, storeNames)
	i.rec.RecordComparison(i.name, err, time.Since(start))
	return res, err
}
