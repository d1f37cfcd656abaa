package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := fetchAttemptsTotal
	Init()
	if fetchAttemptsTotal != first {
		t.Fatal("Init() must not rebuild collectors")
	}
}

func TestObserveFetchAttemptCountsRetries(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fetchRetriesTotal)
	ObserveFetchAttempt("retry")
	ObserveFetchAttempt("ok")
	if got := testutil.ToFloat64(fetchRetriesTotal); got != before+1 {
		t.Fatalf("expected retries to grow by 1, got %f -> %f", before, got)
	}
}

func TestObserveRunSetsLastSuccess(t *testing.T) {
	Init()
	finished := time.Unix(1700000000, 0)
	ObserveRun("all", "success", time.Minute, finished, true)
	if got := testutil.ToFloat64(lastSuccessTimestamp); got != float64(finished.Unix()) {
		t.Fatalf("expected last success %d, got %f", finished.Unix(), got)
	}

	ObserveRun("all", "error", time.Minute, finished.Add(time.Hour), true)
	if got := testutil.ToFloat64(lastSuccessTimestamp); got != float64(finished.Unix()) {
		t.Fatal("an error run must not move the last-success gauge")
	}
}

func TestObserveExtractedIgnoresZero(t *testing.T) {
	Init()
	ObserveExtracted("zero-src", "active_inmates", 0)
	ObserveExtracted("some-src", "active_inmates", 3)
	if got := testutil.ToFloat64(recordsExtractedTotal.WithLabelValues("zero-src", "active_inmates")); got != 0 {
		t.Fatalf("expected no observations for zero rows, got %f", got)
	}
	if got := testutil.ToFloat64(recordsExtractedTotal.WithLabelValues("some-src", "active_inmates")); got != 3 {
		t.Fatalf("expected 3 rows, got %f", got)
	}
}
