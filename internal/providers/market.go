package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultQuoteBase = "https://query1.finance.yahoo.com"

// Quote is one symbol's latest price and daily change.
type Quote struct {
	Symbol    string
	Name      string
	Price     float64
	ChangePct float64
}

// Index symbols per market. The finance bot reports these plus any
// watched alert symbols.
var (
	USIndexSymbols = []string{"^GSPC", "^IXIC", "^DJI"}
	KRIndexSymbols = []string{"^KS11", "^KQ11"}
)

// QuoteClient fetches quotes from a Yahoo-compatible quote endpoint.
type QuoteClient struct {
	base string
	http *http.Client
}

func NewQuoteClient(base string) *QuoteClient {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = defaultQuoteBase
	}
	return &QuoteClient{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Quotes fetches the given symbols in one request, preserving order for
// symbols the endpoint knows about.
func (c *QuoteClient) Quotes(ctx context.Context, symbols []string) ([]Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	q := url.Values{"symbols": {strings.Join(symbols, ",")}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/v7/finance/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "assistant/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote api returned status %d", resp.StatusCode)
	}

	var body struct {
		QuoteResponse struct {
			Result []struct {
				Symbol    string  `json:"symbol"`
				ShortName string  `json:"shortName"`
				Price     float64 `json:"regularMarketPrice"`
				ChangePct float64 `json:"regularMarketChangePercent"`
			} `json:"result"`
		} `json:"quoteResponse"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("quote response decode: %w", err)
	}

	res := make([]Quote, 0, len(body.QuoteResponse.Result))
	for _, r := range body.QuoteResponse.Result {
		res = append(res, Quote{
			Symbol:    r.Symbol,
			Name:      r.ShortName,
			Price:     r.Price,
			ChangePct: r.ChangePct,
		})
	}
	return res, nil
}
