package findata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/finagent/internal/runtime"
)

// RegisterTools adds the finance data tools backed by fmp and history to reg.
// Either client may be nil; the matching tools are simply not registered.
func RegisterTools(reg *runtime.ToolRegistry, fmp *FMPClient, history *HistoryClient) {
	if fmp != nil {
		reg.Register(&runtime.ToolFunc{
			ToolName:        "get_company_profile",
			ToolDescription: "Get a company's profile: name, sector, industry, market cap and business description.",
			InputSchema:     symbolSchema,
			Fn: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args symbolArgs
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("parse input: %w", err)
				}
				profile, err := fmp.Profile(ctx, args.Symbol)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf(
					"[Company Introduction]:\n\n%s is a leading entity in the %s sector. The company's market capitalization is %.2f, with a current stock price of %.2f. It operates in the %s industry. Website: %s\n\n%s",
					profile.CompanyName, profile.Sector, profile.MarketCap,
					profile.Price, profile.Industry, profile.Website,
					profile.Description,
				), nil
			},
		})
		reg.Register(&runtime.ToolFunc{
			ToolName:        "get_analyst_price_targets",
			ToolDescription: "Get recent analyst price targets for a stock symbol.",
			InputSchema:     symbolSchema,
			Fn: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args symbolArgs
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("parse input: %w", err)
				}
				targets, err := fmp.PriceTargets(ctx, args.Symbol)
				if err != nil {
					return "", err
				}
				if len(targets) > 10 {
					targets = targets[:10]
				}
				var b strings.Builder
				fmt.Fprintf(&b, "Analyst price targets for %s:\n", args.Symbol)
				for _, t := range targets {
					fmt.Fprintf(&b, "- %s %s: target %.2f (price when posted %.2f)\n",
						t.PublishedDate, t.AnalystCompany, t.PriceTarget, t.PriceWhenPosted)
				}
				return b.String(), nil
			},
		})
		reg.Register(&runtime.ToolFunc{
			ToolName:        "get_income_statements",
			ToolDescription: "Get recent annual income statements (revenue, margins, net income, EPS) for a stock symbol.",
			InputSchema:     symbolYearsSchema,
			Fn: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args symbolYearsArgs
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("parse input: %w", err)
				}
				statements, err := fmp.IncomeStatements(ctx, args.Symbol, args.Years)
				if err != nil {
					return "", err
				}
				var b strings.Builder
				fmt.Fprintf(&b, "Annual income statements for %s:\n", args.Symbol)
				for _, s := range statements {
					fmt.Fprintf(&b, "- %s: revenue %.0f, gross profit %.0f (%.1f%%), operating income %.0f, net income %.0f, EPS %.2f\n",
						s.Date, s.Revenue, s.GrossProfit, s.GrossProfitRatio*100,
						s.OperatingIncome, s.NetIncome, s.EPS)
				}
				return b.String(), nil
			},
		})
		reg.Register(&runtime.ToolFunc{
			ToolName:        "get_financial_ratios",
			ToolDescription: "Get recent annual financial ratios (liquidity, margins, leverage, returns) for a stock symbol.",
			InputSchema:     symbolYearsSchema,
			Fn: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args symbolYearsArgs
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("parse input: %w", err)
				}
				ratios, err := fmp.Ratios(ctx, args.Symbol, args.Years)
				if err != nil {
					return "", err
				}
				var b strings.Builder
				fmt.Fprintf(&b, "Annual financial ratios for %s:\n", args.Symbol)
				for _, r := range ratios {
					fmt.Fprintf(&b, "- %s: current ratio %.2f, gross margin %.2f, net margin %.2f, debt/equity %.2f, ROE %.2f, P/E %.2f\n",
						r.Date, r.CurrentRatio, r.GrossProfitMargin, r.NetProfitMargin,
						r.DebtEquityRatio, r.ReturnOnEquity, r.PERatio)
				}
				return b.String(), nil
			},
		})
		reg.Register(&runtime.ToolFunc{
			ToolName:        "get_sec_report",
			ToolDescription: "Get the link to a company's 10-K SEC filing. Year defaults to the latest filing.",
			InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "symbol": {"type": "string", "description": "Stock ticker symbol, e.g. AAPL"},
    "year":   {"type": "string", "description": "Four-digit filing year, or omit for the latest 10-K"}
  },
  "required": ["symbol"]
}`),
			Fn: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					Symbol string `json:"symbol"`
					Year   string `json:"year"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("parse input: %w", err)
				}
				filing, err := fmp.SECReport(ctx, args.Symbol, args.Year)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Link: %s\nFiling date: %s", filing.FinalLink, filing.FillingDate), nil
			},
		})
	}

	if history != nil {
		reg.Register(&runtime.ToolFunc{
			ToolName:        "get_stock_history",
			ToolDescription: "Get daily stock price history (OHLCV) for a symbol over a date range. Optionally saves the series as CSV to save_path.",
			InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "symbol":     {"type": "string", "description": "Stock ticker symbol, e.g. AAPL"},
    "start_date": {"type": "string", "description": "Start date YYYY-MM-DD, defaults to one year ago"},
    "end_date":   {"type": "string", "description": "End date YYYY-MM-DD, defaults to today"},
    "save_path":  {"type": "string", "description": "Optional file path to save the series as CSV"}
  },
  "required": ["symbol"]
}`),
			Fn: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					Symbol    string `json:"symbol"`
					StartDate string `json:"start_date"`
					EndDate   string `json:"end_date"`
					SavePath  string `json:"save_path"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("parse input: %w", err)
				}
				var start, end time.Time
				var err error
				if args.StartDate != "" {
					if start, err = time.Parse("2006-01-02", args.StartDate); err != nil {
						return "", fmt.Errorf("parse start_date: %w", err)
					}
				}
				if args.EndDate != "" {
					if end, err = time.Parse("2006-01-02", args.EndDate); err != nil {
						return "", fmt.Errorf("parse end_date: %w", err)
					}
				}
				bars, err := history.Daily(ctx, args.Symbol, start, end)
				if err != nil {
					return "", err
				}
				summary := summarizeBars(args.Symbol, bars)
				if args.SavePath != "" {
					if err := writeBarsCSV(args.SavePath, bars); err != nil {
						return "", err
					}
					summary += fmt.Sprintf("\nSaved %d rows to %s", len(bars), args.SavePath)
				}
				return summary, nil
			},
		})
	}
}

var symbolSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "symbol": {"type": "string", "description": "Stock ticker symbol, e.g. AAPL"}
  },
  "required": ["symbol"]
}`)

var symbolYearsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "symbol": {"type": "string", "description": "Stock ticker symbol, e.g. AAPL"},
    "years":  {"type": "integer", "description": "Number of annual periods, defaults to 4"}
  },
  "required": ["symbol"]
}`)

type symbolArgs struct {
	Symbol string `json:"symbol"`
}

type symbolYearsArgs struct {
	Symbol string `json:"symbol"`
	Years  int    `json:"years"`
}

// summarizeBars renders first/last/high/low stats for a daily series.
func summarizeBars(symbol string, bars []Bar) string {
	first, last := bars[0], bars[len(bars)-1]
	high, low := first.High, first.Low
	for _, b := range bars {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	change := 0.0
	if first.Close != 0 {
		change = (last.Close - first.Close) / first.Close * 100
	}
	return fmt.Sprintf(
		"%s daily history %s to %s (%d trading days): open %.2f, close %.2f (%+.2f%%), period high %.2f, period low %.2f",
		symbol, first.Date, last.Date, len(bars),
		first.Open, last.Close, change, high, low,
	)
}

// writeBarsCSV writes bars to path in Date,Open,High,Low,Close,Volume form,
// creating parent directories as needed.
func writeBarsCSV(path string, bars []Bar) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	var b strings.Builder
	b.WriteString("Date,Open,High,Low,Close,Volume\n")
	for _, bar := range bars {
		fmt.Fprintf(&b, "%s,%.4f,%.4f,%.4f,%.4f,%.0f\n",
			bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
