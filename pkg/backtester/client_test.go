package backtester

import (
	"context"
	"math"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/saze24/backtester/internal/api"
	"github.com/saze24/backtester/internal/domain"
	"github.com/saze24/backtester/internal/engine"
	"github.com/saze24/backtester/internal/series"
	"github.com/saze24/backtester/internal/store"
	"github.com/saze24/backtester/internal/sweep"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "backtester.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	t0 := time.Date(2021, 5, 28, 16, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 120)
	for i := range bars {
		c := 35000 + 1500*math.Sin(float64(i)/6)
		bars[i] = domain.Bar{
			Timestamp: t0.Add(time.Duration(i) * 4 * time.Hour),
			Open:      c - 50, High: c + 300, Low: c - 300, Close: c,
		}
	}
	ser, err := series.Build("XBTUSD", "4H", 4*time.Hour, bars, series.Window{Start: bars[20].Timestamp})
	if err != nil {
		t.Fatalf("series.Build: %v", err)
	}
	if _, err := st.SaveSeries(context.Background(), ser); err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}

	svc := sweep.NewService(st, engine.NewEngine(st, 2), "XBTUSD", "4H")
	srv := api.NewServer("bufnet", api.NewService(api.NewBackend(svc, st, api.Limits{})))

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, lis)
	}()

	c, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		cancel()
		<-done
	})
	return c
}

func TestClient(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rep, err := c.RunSweep(ctx, SweepRequest{
		Name:          "sdk",
		FastMA:        [2]int{3, 5},
		SlowMA:        [2]int{6, 8},
		StopLossPct:   [2]int{1, 2},
		TakeProfitPct: [2]int{2, 4},
	})
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if rep.Tests != 45 || rep.Workers != 2 || rep.RunID == "" {
		t.Errorf("report = %+v", rep)
	}

	tests, err := c.ListTests(ctx)
	if err != nil {
		t.Fatalf("ListTests: %v", err)
	}
	if len(tests) != 1 || tests[0].Name != "sdk" || tests[0].TakeProfitPct != [2]int{2, 4} {
		t.Errorf("tests = %+v", tests)
	}

	top, err := c.TopStrategies(ctx, rep.TestID, 3)
	if err != nil {
		t.Fatalf("TopStrategies: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("TopStrategies returned %d rows", len(top))
	}

	groups, err := c.TopGroupedStrategies(ctx, rep.TestID, 0, 4)
	if err != nil {
		t.Fatalf("TopGroupedStrategies: %v", err)
	}
	if len(groups) != 9 {
		t.Errorf("TopGroupedStrategies returned %d groups, want 9", len(groups))
	}

	details, err := c.GroupDetails(ctx, rep.TestID, top[0].FastMA, top[0].SlowMA)
	if err != nil {
		t.Fatalf("GroupDetails: %v", err)
	}
	if len(details) != 5 {
		t.Errorf("GroupDetails returned %d rows", len(details))
	}

	result, _, err := c.Positions(ctx, top[0].ID)
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if result.ID != top[0].ID {
		t.Errorf("Positions result = %+v", result)
	}

	if err := c.DeleteTest(ctx, rep.TestID); err != nil {
		t.Fatalf("DeleteTest: %v", err)
	}
	if err := c.DeleteTest(ctx, rep.TestID); status.Code(err) != codes.NotFound {
		t.Errorf("second DeleteTest code = %v, want NotFound", status.Code(err))
	}
}
