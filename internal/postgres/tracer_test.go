package postgres

import (
	"context"
	"testing"
	"time"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/repute/internal/incident/pgstore.(*Store).Get", "(*Store).Get"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).Save", "(*Store).Save"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := shortenFuncName(tt.in)
			if got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWithOperation_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithOperation(context.Background(), "ingest")
	if got := operationFromContext(ctx); got != "ingest" {
		t.Errorf("operationFromContext = %q, want %q", got, "ingest")
	}
}

func TestWithOperation_Empty(t *testing.T) {
	t.Parallel()

	ctx := WithOperation(context.Background(), "")
	if got := operationFromContext(ctx); got != "" {
		t.Errorf("operationFromContext = %q, want empty", got)
	}
}

func TestRoutePatternFromContext_NoChi(t *testing.T) {
	t.Parallel()

	if got := routePatternFromContext(context.Background()); got != "" {
		t.Errorf("routePatternFromContext = %q, want empty", got)
	}
}

func TestFindDBCaller_ReportsTestFrame(t *testing.T) {
	t.Parallel()

	caller, _ := findDBCaller()
	if caller == "" {
		t.Fatal("expected a caller frame")
	}
}

func TestTraceQueryEnd_WithoutStartIsNoop(t *testing.T) {
	t.Parallel()

	tr := loggingTracer{}
	// must not panic when the start hook never ran
	tr.TraceQueryEnd(context.Background(), nil, pgxEndData(nil))
}

func TestSetQueryObserver(t *testing.T) {
	// mutates package state, not parallel
	defer SetQueryObserver(nil)

	var gotOp, gotOutcome string
	obs := QueryObserverFunc(func(_ context.Context, op, _, outcome string, _ time.Duration) {
		gotOp, gotOutcome = op, outcome
	})

	SetQueryObserver(obs)
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "sweep", "none", "ok", time.Millisecond)
	if gotOp != "sweep" || gotOutcome != "ok" {
		t.Errorf("observer got (%q, %q), want (sweep, ok)", gotOp, gotOutcome)
	}

	SetQueryObserver(nil)
	if getQueryObserver() != nil {
		t.Error("expected nil observer after Set(nil)")
	}
}

func TestLoggingTracer_ObservesQueries(t *testing.T) {
	// mutates package state, not parallel
	defer SetQueryObserver(nil)

	var calls int
	var gotOp, gotRoute string
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, op, route, _ string, _ time.Duration) {
		calls++
		gotOp, gotRoute = op, route
	}))

	tr := loggingTracer{slow: time.Hour}
	ctx := WithOperation(context.Background(), "recompute")
	ctx = tr.TraceQueryStart(ctx, nil, pgxStartData("SELECT 1"))
	tr.TraceQueryEnd(ctx, nil, pgxEndData(nil))

	if calls != 1 {
		t.Fatalf("observer calls = %d, want 1", calls)
	}
	if gotOp != "recompute" {
		t.Errorf("operation = %q, want recompute", gotOp)
	}
	if gotRoute != "none" {
		t.Errorf("route = %q, want none", gotRoute)
	}
}
