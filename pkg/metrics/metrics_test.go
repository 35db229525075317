package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounterVecs(t *testing.T) {
	ParseTotal.Reset()
	ManageSieveCommandsTotal.Reset()
	StoreOperationsTotal.Reset()

	ParseTotal.WithLabelValues("success").Inc()
	ParseTotal.WithLabelValues("success").Inc()
	ParseTotal.WithLabelValues("error").Inc()
	ManageSieveCommandsTotal.WithLabelValues("PUTSCRIPT", "OK").Inc()
	StoreOperationsTotal.WithLabelValues("sqlite", "put", "success").Inc()

	if got := testutil.ToFloat64(ParseTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("Expected 2 successful parses, got %f", got)
	}
	if got := testutil.ToFloat64(ManageSieveCommandsTotal.WithLabelValues("PUTSCRIPT", "OK")); got != 1 {
		t.Errorf("Expected 1 PUTSCRIPT, got %f", got)
	}

	expected := `
# HELP sieveedit_parse_total Total number of script parses
# TYPE sieveedit_parse_total counter
sieveedit_parse_total{result="error"} 1
sieveedit_parse_total{result="success"} 2
`
	if err := testutil.CollectAndCompare(ParseTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics output: %v", err)
	}
}

func TestHistogramsObserve(t *testing.T) {
	ManageSieveCommandDuration.Reset()
	ManageSieveCommandDuration.WithLabelValues("GETSCRIPT").Observe(0.02)
	if n := testutil.CollectAndCount(ManageSieveCommandDuration); n != 1 {
		t.Errorf("Expected 1 histogram series, got %d", n)
	}
}
