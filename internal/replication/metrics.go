package replication

import (
	"strconv"
	"time"

	"github.com/nguyentranbao-ct/chat-replica/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	directionPull = "pull"
	directionPush = "push"
)

type metrics struct {
	cycle      *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec
}

func newMetrics() (*metrics, error) {
	cycle, err := util.GetHistogramVec("replication_cycle_seconds", "collection", "direction", "status")
	if err != nil {
		return nil, err
	}
	depth, err := util.GetGaugeVec("replication_queue_depth", "collection")
	if err != nil {
		return nil, err
	}
	return &metrics{cycle: cycle, queueDepth: depth}, nil
}

func (m *metrics) observe(collection, direction string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.cycle.WithLabelValues(collection, direction, strconv.FormatBool(err == nil)).
		Observe(time.Since(start).Seconds())
}

func (m *metrics) setQueueDepth(collection string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(collection).Set(float64(n))
}
