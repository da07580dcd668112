// Package httpapi provides the HTTP JSON API for running sweeps and browsing
// their rankings.
package httpapi

import (
	"github.com/saze24/backtester/internal/api"
	"github.com/saze24/backtester/internal/report"
)

// SweepResponse is returned by POST /api/tests.
type SweepResponse struct {
	Report report.SweepRow `json:"report"`
}

// TestsResponse lists saved tests.
type TestsResponse struct {
	Tests []report.TestRow `json:"tests"`
}

// StrategiesResponse lists strategy results.
type StrategiesResponse struct {
	TestID     int64                `json:"test_id"`
	Strategies []report.StrategyRow `json:"strategies"`
}

// GroupsResponse lists ranked moving-average pair groups.
type GroupsResponse struct {
	TestID int64             `json:"test_id"`
	Groups []report.GroupRow `json:"groups"`
}

// PositionsResponse is a result with its trade log.
type PositionsResponse = api.PositionsView

// ErrorResponse carries an error message.
type ErrorResponse struct {
	Error string `json:"error"`
}
