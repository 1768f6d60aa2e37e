package telemetry_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"cloven/internal/logging"
	"cloven/internal/telemetry"
)

func TestMetricsRegistryGathersStageKeys(t *testing.T) {
	metrics := telemetry.NewMetrics()
	metrics.Keys.WithLabelValues("canon", "total").Set(5)
	count, err := testutil.GatherAndCount(metrics.Registry(), "cloven_stage_keys")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one stage_keys series, got %d", count)
	}
}

func TestServeExposesMetricsUntilCancelled(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback listener: %v", err)
	}
	bind := listener.Addr().String()
	_ = listener.Close()

	metrics := telemetry.NewMetrics()
	metrics.Keys.WithLabelValues("gap", "committed").Set(3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- metrics.Serve(ctx, bind, logging.NewNop())
	}()

	var body string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + bind + "/metrics")
		if err == nil {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(data)
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(body, `cloven_stage_keys{stage="gap",state="committed"} 3`) {
		t.Fatalf("metrics body missing stage keys:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
