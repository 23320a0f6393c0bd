package comparison

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"
	"unicode"
	"unicode/utf8"
)

const mockBasePrice = 25.50

// Mock returns canned comparisons without any network access.
type Mock struct {
	// Latency is slept before answering to mimic a live model.
	Latency time.Duration
	Logger  *slog.Logger
}

func (m *Mock) GenerateComparison(ctx context.Context, prompt string, storeNames []string) (*Result, error) {
	if m.Latency > 0 {
		t := time.NewTimer(m.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("comparison: mock: %w", ctx.Err())
		}
	}
	if m.Logger != nil {
		m.Logger.DebugContext(ctx, "mock comparison", slog.String("prompt", prompt), slog.Int("stores", len(storeNames)))
	}

	stores := make([]StorePrice, len(storeNames))
	for i, name := range storeNames {
		stores[i] = StorePrice{
			StoreName: name,
			StoreIcon: "storefront",
			Price:     mockBasePrice + float64(i),
			Currency:  "RM",
		}
	}

	return &Result{
		Text: fmt.Sprintf("Here is a price comparison for \"%s\" from your selected stores.", prompt),
		Data: &Data{
			ProductName:  capitalize(prompt),
			ProductImage: "https://picsum.photos/seed/" + url.PathEscape(prompt) + "/300/300",
			Stores:       stores,
			Recommendations: []string{
				fmt.Sprintf("Prices for \"%s\" are currently stable.", prompt),
				"Consider checking for bulk discounts.",
				"Prices may vary depending on store location.",
			},
		},
	}, nil
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
