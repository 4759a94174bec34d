package stages

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	correlatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collate_records_correlated_total",
			Help: "Total records accepted by a correlator.",
		},
	)
	mergedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collate_records_merged_total",
			Help: "Total records folded into a held record as a subdocument.",
		},
	)
	releasedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collate_records_released_total",
			Help: "Total held records released, by reason.",
		},
		[]string{"reason"},
	)
	pendingStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collate_pending_streams",
			Help: "Streams currently holding a record, across all correlators.",
		},
	)
	sqlInsertTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collate_sql_insert_total",
			Help: "Total SQL sink inserts by status.",
		},
		[]string{"status"},
	)
)

const (
	releaseReplaced = "replaced"
	releaseFlush    = "flush"
)
