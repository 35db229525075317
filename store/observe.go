package store

import (
	"errors"
	"time"

	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/pkg/metrics"
)

// Observe records the outcome of a store operation. Lookups of missing
// scripts count as "not_found" rather than errors.
func Observe(backend, operation string, start time.Time, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, consts.ErrScriptNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	metrics.StoreOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	metrics.StoreOperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}
