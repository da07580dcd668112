// Package backtester is a Go client for the backtester-server gRPC API.
package backtester

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "backtester.v1.Sweeper"

// SweepRequest describes a sweep. Each range is an inclusive [low, high]
// pair; percentages are whole points. A zero SeriesID selects the server's
// default series.
type SweepRequest struct {
	Name          string `json:"name"`
	SeriesID      int64  `json:"series_id,omitempty"`
	FastMA        [2]int `json:"fast_ma"`
	SlowMA        [2]int `json:"slow_ma"`
	StopLossPct   [2]int `json:"stop_loss_pct"`
	TakeProfitPct [2]int `json:"take_profit_pct"`
}

// SweepReport summarises a completed sweep.
type SweepReport struct {
	TestID    int64   `json:"test_id"`
	RunID     string  `json:"run_id"`
	Workers   int     `json:"workers"`
	Tests     int     `json:"tests"`
	Persisted int     `json:"persisted"`
	Failed    int     `json:"failed"`
	Positions int     `json:"positions"`
	Records   int     `json:"records"`
	Seconds   float64 `json:"seconds"`
	Summary   string  `json:"summary"`
}

// Test is a saved sweep.
type Test struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	RunID         string  `json:"run_id"`
	SeriesID      int64   `json:"series_id"`
	FastMA        [2]int  `json:"fast_ma"`
	SlowMA        [2]int  `json:"slow_ma"`
	StopLossPct   [2]int  `json:"stop_loss_pct"`
	TakeProfitPct [2]int  `json:"take_profit_pct"`
	CreatedAt     string  `json:"created_at"`
	Workers       int     `json:"workers"`
	Tests         int     `json:"tests"`
	Persisted     int     `json:"persisted"`
	Failed        int     `json:"failed"`
	Positions     int     `json:"positions"`
	Seconds       float64 `json:"seconds"`
}

// Strategy is one ranked result. Rates are percent strings such as "5.0%".
type Strategy struct {
	ID         int64  `json:"id"`
	TestID     int64  `json:"test_id"`
	FastMA     int    `json:"fast_ma"`
	SlowMA     int    `json:"slow_ma"`
	StopLoss   string `json:"stop_loss"`
	TakeProfit string `json:"take_profit"`
	TotalPnL   string `json:"total_pnl"`
}

// Group is one moving-average pair in a grouped ranking.
type Group struct {
	Rank          int    `json:"rank"`
	FastMA        int    `json:"fast_ma"`
	SlowMA        int    `json:"slow_ma"`
	AvgStopLoss   string `json:"avg_stop_loss"`
	AvgTakeProfit string `json:"avg_take_profit"`
	TopPnL        string `json:"top_pnl"`
	AvgPnL        string `json:"avg_pnl"`
	Frequency     int    `json:"frequency"`
}

// Position is one simulated trade.
type Position struct {
	Direction  string  `json:"direction"`
	OpenTime   string  `json:"open_time"`
	OpenPrice  float64 `json:"open_price"`
	CloseTime  string  `json:"close_time"`
	ClosePrice float64 `json:"close_price"`
	PnL        string  `json:"pnl"`
}

// Client provides a Go SDK for the backtester-server gRPC API.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for target. Without options the connection is
// unauthenticated plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RunSweep runs a sweep and waits for it to finish.
func (c *Client) RunSweep(ctx context.Context, req SweepRequest) (*SweepReport, error) {
	var out struct {
		Report SweepReport `json:"report"`
	}
	if err := c.call(ctx, "RunSweep", req, &out); err != nil {
		return nil, err
	}
	return &out.Report, nil
}

// ListTests returns every saved test, newest first.
func (c *Client) ListTests(ctx context.Context) ([]Test, error) {
	var out struct {
		Tests []Test `json:"tests"`
	}
	if err := c.call(ctx, "ListTests", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Tests, nil
}

// TopStrategies returns up to limit results of a test ordered by total PnL.
// limit <= 0 selects the server default.
func (c *Client) TopStrategies(ctx context.Context, testID int64, limit int) ([]Strategy, error) {
	req := map[string]any{"test_id": testID}
	if limit > 0 {
		req["limit"] = limit
	}
	var out struct {
		Strategies []Strategy `json:"strategies"`
	}
	if err := c.call(ctx, "TopStrategies", req, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// TopGroupedStrategies returns the grouped ranking of a test. Non-positive
// topN and negative minFrequency select the server defaults.
func (c *Client) TopGroupedStrategies(ctx context.Context, testID int64, topN, minFrequency int) ([]Group, error) {
	req := map[string]any{"test_id": testID}
	if topN > 0 {
		req["top_n"] = topN
	}
	if minFrequency >= 0 {
		req["min_frequency"] = minFrequency
	}
	var out struct {
		Groups []Group `json:"groups"`
	}
	if err := c.call(ctx, "TopGroupedStrategies", req, &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

// GroupDetails returns every result of a test using one moving-average pair.
func (c *Client) GroupDetails(ctx context.Context, testID int64, fastMA, slowMA int) ([]Strategy, error) {
	req := map[string]any{"test_id": testID, "fast_ma": fastMA, "slow_ma": slowMA}
	var out struct {
		Strategies []Strategy `json:"strategies"`
	}
	if err := c.call(ctx, "GroupDetails", req, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// Positions returns a result with its trade log.
func (c *Client) Positions(ctx context.Context, resultID int64) (*Strategy, []Position, error) {
	var out struct {
		Result    Strategy   `json:"result"`
		Positions []Position `json:"positions"`
	}
	if err := c.call(ctx, "Positions", map[string]any{"result_id": resultID}, &out); err != nil {
		return nil, nil, err
	}
	return &out.Result, out.Positions, nil
}

// DeleteTest removes a test with its results.
func (c *Client) DeleteTest(ctx context.Context, testID int64) error {
	return c.call(ctx, "DeleteTest", map[string]any{"test_id": testID}, nil)
}

// call invokes method with req and decodes the reply into out. Errors are
// returned as gRPC status errors.
func (c *Client) call(ctx context.Context, method string, req, out any) error {
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", method, err)
	}
	in := new(structpb.Struct)
	if err := protojson.Unmarshal(b, in); err != nil {
		return fmt.Errorf("%s: encoding request: %w", method, err)
	}

	reply := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, reply); err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	b, err = protojson.Marshal(reply)
	if err != nil {
		return fmt.Errorf("%s: decoding reply: %w", method, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%s: decoding reply: %w", method, err)
	}
	return nil
}
