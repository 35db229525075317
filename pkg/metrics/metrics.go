package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Script language metrics
var (
	ParseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveedit_parse_total",
			Help: "Total number of script parses",
		},
		[]string{"result"},
	)

	ParseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sieveedit_parse_duration_seconds",
			Help:    "Time spent lexing and parsing scripts",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	RenderTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sieveedit_render_total",
			Help: "Total number of scripts rendered to canonical text",
		},
	)

	EditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveedit_edits_total",
			Help: "Total number of test edits applied to documents",
		},
		[]string{"operation", "result"},
	)

	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveedit_validations_total",
			Help: "Total number of script validations",
		},
		[]string{"result"},
	)

	SimulationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveedit_simulations_total",
			Help: "Total number of script simulations by resulting action",
		},
		[]string{"action"},
	)
)

// ManageSieve client metrics
var (
	ManageSieveCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveedit_managesieve_commands_total",
			Help: "Total number of ManageSieve commands sent",
		},
		[]string{"command", "status"},
	)

	ManageSieveCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sieveedit_managesieve_command_duration_seconds",
			Help:    "Round trip time of ManageSieve commands",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	ManageSieveDialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveedit_managesieve_dials_total",
			Help: "Total number of connection attempts to ManageSieve servers",
		},
		[]string{"result"},
	)
)

// Store metrics
var (
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveedit_store_operations_total",
			Help: "Total number of script store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sieveedit_store_operation_duration_seconds",
			Help:    "Duration of script store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

// Workspace metrics
var (
	ScriptsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sieveedit_scripts_total",
			Help: "Number of scripts in the store at the last refresh",
		},
	)

	DocumentsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sieveedit_documents_open",
			Help: "Number of documents open in the workspace",
		},
	)

	DocumentsDirty = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sieveedit_documents_dirty",
			Help: "Number of open documents with unsaved changes",
		},
	)

	SavesSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sieveedit_saves_skipped_total",
			Help: "Saves skipped because the stored text was unchanged",
		},
	)
)

// HTTP API metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sieveedit_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sieveedit_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)
