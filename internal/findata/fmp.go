// Package findata provides typed HTTP clients for the finance data sources
// the assistant's tools draw on: Financial Modeling Prep for fundamentals
// and SEC filings, and a quote-history source for price series.
package findata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const fmpBaseURL = "https://financialmodelingprep.com/api/v3"

// FMPClient calls the Financial Modeling Prep REST API.
type FMPClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	cache   *cache
}

// FMPOptions configures an FMPClient.
type FMPOptions struct {
	APIKey   string
	BaseURL  string
	CacheTTL time.Duration
	Client   *http.Client
}

// NewFMPClient creates a Financial Modeling Prep client.
func NewFMPClient(opts FMPOptions) *FMPClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = fmpBaseURL
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FMPClient{
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		http:    client,
		cache:   newCache(opts.CacheTTL),
	}
}

// CompanyProfile is the FMP company profile record.
type CompanyProfile struct {
	Symbol      string  `json:"symbol"`
	CompanyName string  `json:"companyName"`
	Industry    string  `json:"industry"`
	Sector      string  `json:"sector"`
	Description string  `json:"description"`
	MarketCap   float64 `json:"mktCap"`
	Price       float64 `json:"price"`
	Exchange    string  `json:"exchangeShortName"`
	Website     string  `json:"website"`
}

// PriceTarget is an analyst price target entry.
type PriceTarget struct {
	Symbol          string  `json:"symbol"`
	PublishedDate   string  `json:"publishedDate"`
	AnalystCompany  string  `json:"analystCompany"`
	PriceTarget     float64 `json:"priceTarget"`
	AdjPriceTarget  float64 `json:"adjPriceTarget"`
	PriceWhenPosted float64 `json:"priceWhenPosted"`
}

// IncomeStatement is one annual income statement record.
type IncomeStatement struct {
	Date             string  `json:"date"`
	Symbol           string  `json:"symbol"`
	Revenue          float64 `json:"revenue"`
	GrossProfit      float64 `json:"grossProfit"`
	OperatingIncome  float64 `json:"operatingIncome"`
	NetIncome        float64 `json:"netIncome"`
	EPS              float64 `json:"eps"`
	EBITDA           float64 `json:"ebitda"`
	GrossProfitRatio float64 `json:"grossProfitRatio"`
}

// KeyRatios is one annual financial ratios record.
type KeyRatios struct {
	Date              string  `json:"date"`
	Symbol            string  `json:"symbol"`
	CurrentRatio      float64 `json:"currentRatio"`
	QuickRatio        float64 `json:"quickRatio"`
	GrossProfitMargin float64 `json:"grossProfitMargin"`
	NetProfitMargin   float64 `json:"netProfitMargin"`
	DebtEquityRatio   float64 `json:"debtEquityRatio"`
	ReturnOnEquity    float64 `json:"returnOnEquity"`
	PERatio           float64 `json:"priceEarningsRatio"`
}

// SECFiling is one SEC filing index entry.
type SECFiling struct {
	Symbol       string `json:"symbol"`
	Type         string `json:"type"`
	FillingDate  string `json:"fillingDate"`
	AcceptedDate string `json:"acceptedDate"`
	Link         string `json:"link"`
	FinalLink    string `json:"finalLink"`
}

// Profile fetches the company profile for symbol.
func (c *FMPClient) Profile(ctx context.Context, symbol string) (*CompanyProfile, error) {
	var out []CompanyProfile
	if err := c.get(ctx, "/profile/"+url.PathEscape(symbol), nil, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("fmp: no profile for %s", symbol)
	}
	return &out[0], nil
}

// PriceTargets fetches analyst price targets for symbol.
func (c *FMPClient) PriceTargets(ctx context.Context, symbol string) ([]PriceTarget, error) {
	var out []PriceTarget
	err := c.get(ctx, "/price-target", url.Values{"symbol": {symbol}}, &out)
	return out, err
}

// IncomeStatements fetches up to years of annual income statements.
func (c *FMPClient) IncomeStatements(ctx context.Context, symbol string, years int) ([]IncomeStatement, error) {
	if years <= 0 {
		years = 4
	}
	var out []IncomeStatement
	err := c.get(ctx, "/income-statement/"+url.PathEscape(symbol),
		url.Values{"limit": {fmt.Sprint(years)}}, &out)
	return out, err
}

// Ratios fetches up to years of annual financial ratios.
func (c *FMPClient) Ratios(ctx context.Context, symbol string, years int) ([]KeyRatios, error) {
	if years <= 0 {
		years = 4
	}
	var out []KeyRatios
	err := c.get(ctx, "/ratios/"+url.PathEscape(symbol),
		url.Values{"limit": {fmt.Sprint(years)}, "period": {"annual"}}, &out)
	return out, err
}

// SECReport returns the link to the symbol's 10-K filing for the given year,
// or the most recent one when year is empty.
func (c *FMPClient) SECReport(ctx context.Context, symbol, year string) (*SECFiling, error) {
	var filings []SECFiling
	err := c.get(ctx, "/sec_filings/"+url.PathEscape(symbol),
		url.Values{"type": {"10-k"}, "page": {"0"}}, &filings)
	if err != nil {
		return nil, err
	}
	if len(filings) == 0 {
		return nil, fmt.Errorf("fmp: no 10-K filings for %s", symbol)
	}
	if year == "" {
		return &filings[0], nil
	}
	for i := range filings {
		if len(filings[i].AcceptedDate) >= 4 && filings[i].AcceptedDate[:4] == year {
			return &filings[i], nil
		}
	}
	return nil, fmt.Errorf("fmp: no 10-K filing for %s in %s", symbol, year)
}

// get performs one API call, consulting the response cache first.
func (c *FMPClient) get(ctx context.Context, path string, query url.Values, out any) error {
	if c.apiKey == "" {
		return fmt.Errorf("fmp: API key not configured")
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("apikey", c.apiKey)
	full := c.baseURL + path + "?" + query.Encode()

	if data, ok := c.cache.get(full); ok {
		return json.Unmarshal(data, out)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return fmt.Errorf("fmp: build request: %w", err)
	}

	body, err := fetchWithRetry(ctx, c.http, req, "fmp: "+path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("fmp: decode %s: %w", path, err)
	}
	c.cache.set(full, body)
	return nil
}
