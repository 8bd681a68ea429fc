package findata

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const stooqBaseURL = "https://stooq.com/q/d/l/"

// Bar is one daily OHLCV bar.
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// HistoryClient fetches daily price history from Stooq's CSV endpoint.
// Stooq needs no API key, which keeps price charts working even when no
// FMP key is configured.
type HistoryClient struct {
	baseURL string
	http    *http.Client
	cache   *cache
}

// HistoryOptions configures a HistoryClient.
type HistoryOptions struct {
	BaseURL  string
	CacheTTL time.Duration
	Client   *http.Client
}

// NewHistoryClient creates a price-history client.
func NewHistoryClient(opts HistoryOptions) *HistoryClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = stooqBaseURL
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HistoryClient{baseURL: baseURL, http: client, cache: newCache(opts.CacheTTL)}
}

// Daily returns daily bars for symbol between start and end (inclusive),
// oldest first. US tickers are mapped to Stooq's ".us" suffix form.
func (c *HistoryClient) Daily(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if symbol == "" {
		return nil, fmt.Errorf("history: symbol required")
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.AddDate(-1, 0, 0)
	}

	query := url.Values{
		"s":  {stooqSymbol(symbol)},
		"d1": {start.Format("20060102")},
		"d2": {end.Format("20060102")},
		"i":  {"d"},
	}
	full := c.baseURL + "?" + query.Encode()

	if data, ok := c.cache.get(full); ok {
		var bars []Bar
		if err := json.Unmarshal(data, &bars); err == nil {
			return bars, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, fmt.Errorf("history: build request: %w", err)
	}
	body, err := fetchWithRetry(ctx, c.http, req, "history: "+symbol)
	if err != nil {
		return nil, err
	}

	bars, err := parseStooqCSV(body)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("history: no data for %s", symbol)
	}
	if cached, err := json.Marshal(bars); err == nil {
		c.cache.set(full, cached)
	}
	return bars, nil
}

// stooqSymbol lowercases a ticker and appends ".us" when it carries no
// exchange suffix already.
func stooqSymbol(symbol string) string {
	s := strings.ToLower(symbol)
	if strings.Contains(s, ".") {
		return s
	}
	return s + ".us"
}

// parseStooqCSV decodes Stooq's Date,Open,High,Low,Close,Volume CSV.
func parseStooqCSV(data []byte) ([]Bar, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("history: parse csv: %w", err)
	}
	var bars []Bar
	for i, rec := range records {
		if i == 0 || len(rec) < 6 {
			continue
		}
		bar := Bar{Date: rec[0]}
		fields := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
		ok := true
		for j, dst := range fields {
			v, err := strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				ok = false
				break
			}
			*dst = v
		}
		if ok {
			bars = append(bars, bar)
		}
	}
	return bars, nil
}
