package series

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/saze24/backtester/internal/domain"
	"github.com/saze24/backtester/internal/util"
)

// Fetch retry policy.
const (
	fetchAttempts  = 3
	fetchBaseDelay = time.Second
)

// AlpacaFetcher downloads historical bars from the Alpaca market-data API.
// Symbols of the form BASE/QUOTE are fetched as crypto bars, anything else as
// stock bars.
type AlpacaFetcher struct {
	client  *marketdata.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaFetcher creates an AlpacaFetcher with the given credentials. An
// empty dataURL uses the client default. Requests are limited to
// ratePerMinute calls.
func NewAlpacaFetcher(apiKey, apiSecret, dataURL string, ratePerMinute int) *AlpacaFetcher {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 200
	}

	return &AlpacaFetcher{
		client:  marketdata.NewClient(opts),
		limiter: util.NewRateLimiter(ratePerMinute),
		log:     slog.Default().With("component", "alpaca-fetcher"),
	}
}

// FetchBars returns bars for symbol at interval within [start, end], ordered
// by timestamp.
func (f *AlpacaFetcher) FetchBars(ctx context.Context, symbol string, interval time.Duration, start, end time.Time) ([]domain.Bar, error) {
	tf, err := TimeFrameFor(interval)
	if err != nil {
		return nil, err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bars []domain.Bar
	err = util.Retry(ctx, fetchAttempts, fetchBaseDelay, func() error {
		var ferr error
		if IsCrypto(symbol) {
			bars, ferr = f.cryptoBars(symbol, tf, start, end)
		} else {
			bars, ferr = f.stockBars(symbol, tf, start, end)
		}
		if ferr != nil {
			f.log.Warn("fetch failed", "symbol", symbol, "error", ferr)
		}
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s bars: %w", symbol, err)
	}

	f.log.Info("fetched bars", "symbol", symbol, "timeframe", tf.String(), "count", len(bars))
	return bars, nil
}

func (f *AlpacaFetcher) cryptoBars(symbol string, tf marketdata.TimeFrame, start, end time.Time) ([]domain.Bar, error) {
	raw, err := f.client.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCryptoBars: %w", err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return bars, nil
}

func (f *AlpacaFetcher) stockBars(symbol string, tf marketdata.TimeFrame, start, end time.Time) ([]domain.Bar, error) {
	raw, err := f.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars: %w", err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		})
	}
	return bars, nil
}

// IsCrypto reports whether symbol names a crypto pair such as "BTC/USD".
func IsCrypto(symbol string) bool {
	return strings.Contains(symbol, "/")
}

// TimeFrameFor maps a candle interval to an Alpaca bar timeframe.
func TimeFrameFor(interval time.Duration) (marketdata.TimeFrame, error) {
	switch {
	case interval <= 0:
	case interval == 24*time.Hour:
		return marketdata.OneDay, nil
	case interval%time.Hour == 0 && interval < 24*time.Hour:
		return marketdata.NewTimeFrame(int(interval/time.Hour), marketdata.Hour), nil
	case interval%time.Minute == 0 && interval < time.Hour:
		return marketdata.NewTimeFrame(int(interval/time.Minute), marketdata.Min), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("no Alpaca timeframe for interval %s", interval)
}
