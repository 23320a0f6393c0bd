package comparison

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestMock_RedOnion(t *testing.T) {
	m := &Mock{}
	res, err := m.GenerateComparison(context.Background(), "red Onion 1kg", []string{"Giant", "Jaya Grocer"})
	require.NoError(t, err)
	require.NotNil(t, res.Data)

	assert.Equal(t, "Red Onion 1kg", res.Data.ProductName)
	require.Len(t, res.Data.Stores, 2)
	assert.Equal(t, "Giant", res.Data.Stores[0].StoreName)
	assert.Equal(t, "Jaya Grocer", res.Data.Stores[1].StoreName)
	assert.Less(t, res.Data.Stores[0].Price, res.Data.Stores[1].Price)
	assert.Equal(t, 25.50, res.Data.Stores[0].Price)
	assert.Equal(t, "RM", res.Data.Stores[0].Currency)
	assert.NotEmpty(t, res.Data.Recommendations)
	assert.Contains(t, res.Data.ProductImage, "red%20Onion%201kg")
}

func TestMock_QuotesPromptLiterally(t *testing.T) {
	m := &Mock{}
	res, err := m.GenerateComparison(context.Background(), `5" pan`, []string{"Giant"})
	require.NoError(t, err)

	assert.Equal(t, `Here is a price comparison for "5" pan" from your selected stores.`, res.Text)
	assert.Equal(t, `Prices for "5" pan" are currently stable.`, res.Data.Recommendations[0])
}

func TestMock_LatencyHonoursContext(t *testing.T) {
	m := &Mock{Latency: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.GenerateComparison(ctx, "rice", []string{"Giant"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantData bool
	}{
		{"json", `{"text":"ok","comparisonData":{"productName":"Rice","stores":[{"storeName":"Giant","price":10,"currency":"RM"}],"recommendations":["x"]}}`, "ok", true},
		{"fenced json", "```json\n{\"text\":\"ok\",\"comparisonData\":{\"productName\":\"Rice\",\"stores\":[{\"storeName\":\"Giant\",\"price\":10}]}}\n```", "ok", true},
		{"text only json", `{"text":"hello there"}`, "hello there", false},
		{"empty stores dropped", `{"text":"t","comparisonData":{"productName":"Rice","stores":[]}}`, "t", false},
		{"missing text synthesised", `{"comparisonData":{"productName":"Rice","stores":[{"storeName":"Giant","price":1}]}}`, `Here is a price comparison for "Rice" from your selected stores.`, true},
		{"truncated json", `{"text":"ok","comparisonData":{"productName":`, FallbackText, false},
		{"wrong types", `{"text":42}`, FallbackText, false},
		{"prose", "Sorry, I can only compare groceries.", "Sorry, I can only compare groceries.", false},
		{"empty", "  ", FallbackText, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseResult(tt.raw)
			assert.Equal(t, tt.wantText, res.Text)
			assert.Equal(t, tt.wantData, res.Data != nil)
		})
	}
}

type fakeGenerator struct {
	reply   string
	err     error
	model   string
	request string
	mime    string
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.request = contents[0].Parts[0].Text
	f.mime = config.ResponseMIMEType
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.reply}}},
		}},
	}, nil
}

func TestGemini_ParsesReply(t *testing.T) {
	gen := &fakeGenerator{reply: `{"text":"done","comparisonData":{"productName":"Milk","stores":[{"storeName":"Giant","price":7.2,"currency":"RM"}],"recommendations":["buy"]}}`}
	g := newGemini(gen, "", nil)

	res, err := g.GenerateComparison(context.Background(), "Milk", []string{"Giant", "Lotuss"})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)
	require.NotNil(t, res.Data)
	assert.Equal(t, 7.2, res.Data.Stores[0].Price)

	assert.Equal(t, defaultGeminiModel, gen.model)
	assert.Equal(t, "application/json", gen.mime)
	assert.Equal(t, "Product: Milk\nStores: Giant, Lotuss", gen.request)
}

func TestGemini_MalformedReplyDegrades(t *testing.T) {
	g := newGemini(&fakeGenerator{reply: `{"text": "unterminated`}, "m", nil)

	res, err := g.GenerateComparison(context.Background(), "Milk", []string{"Giant"})
	require.NoError(t, err)
	assert.Equal(t, FallbackText, res.Text)
	assert.Nil(t, res.Data)
}

func TestGemini_TransportError(t *testing.T) {
	g := newGemini(&fakeGenerator{err: errors.New("quota exceeded")}, "m", nil)

	_, err := g.GenerateComparison(context.Background(), "Milk", []string{"Giant"})
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), "", "", nil)
	assert.Error(t, err)
}
