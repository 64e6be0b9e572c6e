package mdbkv

import "github.com/VictoriaMetrics/metrics"

// Operational counters, exposed through the process's default metrics
// registry. The per-Env atomic counters track live state; these track
// totals across all environments.
var (
	metricTxnsCommitted = metrics.NewCounter(`mdbkv_txns_committed_total`)
	metricTxnsAborted   = metrics.NewCounter(`mdbkv_txns_aborted_total`)
	metricPuts          = metrics.NewCounter(`mdbkv_puts_total`)
	metricGets          = metrics.NewCounter(`mdbkv_gets_total`)
	metricDeletes       = metrics.NewCounter(`mdbkv_deletes_total`)
)
