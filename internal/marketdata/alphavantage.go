package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"backtester/internal/domain"
	"backtester/internal/util"
)

// Compile-time interface check.
var _ Source = (*AlphaVantageSource)(nil)

const (
	// AlphaVantageURL is the public query endpoint.
	AlphaVantageURL = "https://www.alphavantage.co/query"

	// AlphaVantageKey is the configuration key holding the API key.
	AlphaVantageKey = "AV_KEY"
)

// AlphaVantageConfig holds the settings for an AlphaVantageSource.
type AlphaVantageConfig struct {
	BaseURL    string
	RateLimit  int // requests per minute, 0 = unlimited
	MaxRetries int
	HTTPClient *http.Client
}

// AlphaVantageSource serves quotes and bars from the Alpha Vantage REST API.
// The API key is looked up on every request, so a missing key surfaces as
// domain.ErrConfigMissing from the call that needed it.
type AlphaVantageSource struct {
	secrets    Secrets
	baseURL    string
	client     *http.Client
	limiter    *util.RateLimiter
	maxRetries int
	loc        *time.Location
	log        *slog.Logger
}

// NewAlphaVantageSource creates an AlphaVantageSource reading its API key
// from secrets under AlphaVantageKey.
func NewAlphaVantageSource(secrets Secrets, cfg AlphaVantageConfig, log *slog.Logger) *AlphaVantageSource {
	if log == nil {
		log = slog.Default()
	}
	base := cfg.BaseURL
	if base == "" {
		base = AlphaVantageURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	// Intraday timestamps are US/Eastern.
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &AlphaVantageSource{
		secrets:    secrets,
		baseURL:    base,
		client:     client,
		limiter:    util.NewRateLimiter(cfg.RateLimit),
		maxRetries: max(cfg.MaxRetries, 1),
		loc:        loc,
		log:        log.With("component", "marketdata", "provider", "alphavantage"),
	}
}

// Name returns "alphavantage".
func (s *AlphaVantageSource) Name() string { return "alphavantage" }

// ---------------------------------------------------------------------------
// Response shapes
// ---------------------------------------------------------------------------

type avGlobalQuote struct {
	Quote map[string]string `json:"Global Quote"`
}

// avStatus carries the fields the API uses instead of an HTTP error code.
type avStatus struct {
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
}

func (st avStatus) err() error {
	switch {
	case st.ErrorMessage != "":
		return fmt.Errorf("alphavantage: %s", st.ErrorMessage)
	case st.Note != "":
		return fmt.Errorf("alphavantage: %s", st.Note)
	case st.Information != "":
		return fmt.Errorf("alphavantage: %s", st.Information)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Source implementation
// ---------------------------------------------------------------------------

// Quote calls GLOBAL_QUOTE and reads "05. price" and "09. change".
func (s *AlphaVantageSource) Quote(ctx context.Context, ticker string, quantity int64) (domain.Quote, error) {
	symbol := strings.ToUpper(ticker)
	params := url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}}

	var body avGlobalQuote
	if err := s.get(ctx, params, &body); err != nil {
		return domain.Quote{}, unavailable(err, "alphavantage quote for %s", symbol)
	}
	if len(body.Quote) == 0 {
		return domain.Quote{}, fmt.Errorf("alphavantage quote for %s: empty response: %w", symbol, domain.ErrDataUnavailable)
	}

	price, err := parseField(body.Quote, "05. price")
	if err != nil {
		return domain.Quote{}, unavailable(err, "alphavantage quote for %s", symbol)
	}
	change, err := parseField(body.Quote, "09. change")
	if err != nil {
		return domain.Quote{}, unavailable(err, "alphavantage quote for %s", symbol)
	}

	q := domain.Quote{Ticker: symbol, Price: price, Change: change, Quantity: quantity}
	if day, ok := body.Quote["07. latest trading day"]; ok {
		if ts, err := time.ParseInLocation(time.DateOnly, day, time.UTC); err == nil {
			q.Timestamp = ts
		}
	}
	return q, nil
}

// TimeSeries calls the TIME_SERIES_* function matching interval and returns
// the rows oldest first.
func (s *AlphaVantageSource) TimeSeries(ctx context.Context, ticker string, interval domain.Interval) ([]domain.Bar, error) {
	symbol := strings.ToUpper(ticker)
	function, avInterval, key, err := alphaVantageSeries(interval)
	if err != nil {
		return nil, err
	}
	params := url.Values{"function": {function}, "symbol": {symbol}}
	if avInterval != "" {
		params.Set("interval", avInterval)
	}

	var body map[string]json.RawMessage
	if err := s.get(ctx, params, &body); err != nil {
		return nil, unavailable(err, "alphavantage %s series for %s", interval, symbol)
	}
	raw, ok := body[key]
	if !ok {
		return nil, fmt.Errorf("alphavantage %s series for %s: missing %q: %w", interval, symbol, key, domain.ErrDataUnavailable)
	}
	var rows map[string]map[string]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, unavailable(err, "alphavantage %s series for %s", interval, symbol)
	}

	bars := make([]domain.Bar, 0, len(rows))
	for stamp, row := range rows {
		bar, err := s.parseBar(symbol, stamp, row)
		if err != nil {
			return nil, unavailable(err, "alphavantage %s series for %s", interval, symbol)
		}
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	s.log.Debug("fetched bars", "symbol", symbol, "interval", interval, "count", len(bars))
	return bars, nil
}

// get performs one paced, retried query and decodes the JSON body into out.
func (s *AlphaVantageSource) get(ctx context.Context, params url.Values, out any) error {
	key, err := s.secrets.Get(AlphaVantageKey)
	if err != nil {
		return err
	}
	params.Set("apikey", key)
	endpoint := s.baseURL + "?" + params.Encode()

	return util.Retry(ctx, s.maxRetries, retryDelay, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return util.Permanent(err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return util.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("alphavantage: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return util.Permanent(fmt.Errorf("alphavantage: status %d", resp.StatusCode))
		}

		var raw json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return util.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		var st avStatus
		if err := json.Unmarshal(raw, &st); err == nil {
			if serr := st.err(); serr != nil {
				// Throttle notices are transient; error messages are not.
				if st.ErrorMessage != "" {
					return util.Permanent(serr)
				}
				return serr
			}
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return util.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	})
}

func (s *AlphaVantageSource) parseBar(symbol, stamp string, row map[string]string) (domain.Bar, error) {
	ts, err := time.ParseInLocation(time.DateOnly, stamp, time.UTC)
	if err != nil {
		ts, err = time.ParseInLocation(time.DateTime, stamp, s.loc)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("parsing timestamp %q: %w", stamp, err)
		}
	}

	bar := domain.Bar{Symbol: symbol, Timestamp: ts.UTC()}
	fields := []struct {
		key string
		dst *float64
	}{
		{"1. open", &bar.Open},
		{"2. high", &bar.High},
		{"3. low", &bar.Low},
		{"4. close", &bar.Close},
	}
	for _, f := range fields {
		if *f.dst, err = parseField(row, f.key); err != nil {
			return domain.Bar{}, fmt.Errorf("row %s: %w", stamp, err)
		}
	}
	if v, ok := row["5. volume"]; ok {
		vol, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("row %s: parsing volume %q: %w", stamp, v, err)
		}
		bar.Volume = vol
	}
	return bar, nil
}

func parseField(m map[string]string, key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %q value %q: %w", key, v, err)
	}
	return f, nil
}

// alphaVantageSeries maps an interval to the API function, the intraday
// interval parameter and the response key holding the rows.
func alphaVantageSeries(interval domain.Interval) (function, avInterval, key string, err error) {
	switch interval {
	case domain.IntervalMinute:
		return "TIME_SERIES_INTRADAY", "1min", "Time Series (1min)", nil
	case domain.IntervalHour:
		return "TIME_SERIES_INTRADAY", "60min", "Time Series (60min)", nil
	case domain.IntervalDay:
		return "TIME_SERIES_DAILY", "", "Time Series (Daily)", nil
	case domain.IntervalWeek:
		return "TIME_SERIES_WEEKLY", "", "Weekly Time Series", nil
	case domain.IntervalMonth:
		return "TIME_SERIES_MONTHLY", "", "Monthly Time Series", nil
	default:
		return "", "", "", fmt.Errorf("unsupported interval %q", interval)
	}
}
