package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestMetricsServer(t *testing.T) {
	reg := NewRegistry()
	srv := Start(8888, reg)
	time.Sleep(100 * time.Millisecond)
	defer srv.Stop(context.Background())

	reg.PagesFetched.WithLabelValues("example.com", "200").Inc()
	reg.PagesStored.WithLabelValues("example.com").Inc()
	reg.FetchDuration.WithLabelValues("example.com").Observe(1.0)

	resp, err := http.Get("http://localhost:8888/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	output := string(body)

	if !strings.Contains(output, `burrowler_pages_fetched_total{host="example.com",status="200"} 1`) {
		t.Errorf("expected burrowler_pages_fetched_total metric, got:\n%s", output)
	}
	if !strings.Contains(output, "burrowler_fetch_duration_seconds_bucket") {
		t.Errorf("expected burrowler_fetch_duration_seconds metric")
	}
}

func TestRegistryIsolatedAcrossInstances(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.PagesFetched.WithLabelValues("a.example", "200").Inc()

	mfA, err := a.reg.Gather()
	if err != nil {
		t.Fatalf("gather a: %v", err)
	}
	mfB, err := b.reg.Gather()
	if err != nil {
		t.Fatalf("gather b: %v", err)
	}

	if len(mfA) == 0 {
		t.Fatal("expected registry a to have recorded metrics")
	}
	for _, mf := range mfB {
		if mf.GetName() == "burrowler_pages_fetched_total" && len(mf.GetMetric()) != 0 {
			t.Error("expected registry b to be unaffected by registry a's increments")
		}
	}
}
