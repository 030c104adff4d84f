package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	SnapshotsProcessed  atomic.Int64
	AlertsCreated       atomic.Int64
	AlertWriteFailures  atomic.Int64
	ViolationFailures   atomic.Int64
	StatusTransitions   atomic.Int64
	StatusWriteFailures atomic.Int64
	NotificationsFired  atomic.Int64

	ReadingsReceived     atomic.Int64
	StateWriteFailures   atomic.Int64
	HistoryWriteSuccess  atomic.Int64
	HistoryWriteFailures atomic.Int64
	StateChannelDrops    atomic.Int64
	HistoryChannelDrops  atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "monitor_snapshots_processed_total %d\n", SnapshotsProcessed.Load())
	fmt.Fprintf(w, "monitor_alerts_created_total %d\n", AlertsCreated.Load())
	fmt.Fprintf(w, "monitor_alert_write_failures_total %d\n", AlertWriteFailures.Load())
	fmt.Fprintf(w, "monitor_violation_set_failures_total %d\n", ViolationFailures.Load())
	fmt.Fprintf(w, "monitor_status_transitions_total %d\n", StatusTransitions.Load())
	fmt.Fprintf(w, "monitor_status_write_failures_total %d\n", StatusWriteFailures.Load())
	fmt.Fprintf(w, "monitor_notifications_fired_total %d\n", NotificationsFired.Load())
	fmt.Fprintf(w, "ingest_readings_received_total %d\n", ReadingsReceived.Load())
	fmt.Fprintf(w, "ingest_state_write_failures_total %d\n", StateWriteFailures.Load())
	fmt.Fprintf(w, "ingest_history_write_success_total %d\n", HistoryWriteSuccess.Load())
	fmt.Fprintf(w, "ingest_history_write_failures_total %d\n", HistoryWriteFailures.Load())
	fmt.Fprintf(w, "ingest_state_channel_drops_total %d\n", StateChannelDrops.Load())
	fmt.Fprintf(w, "ingest_history_channel_drops_total %d\n", HistoryChannelDrops.Load())
}
