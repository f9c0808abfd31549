package api

import (
	"sync/atomic"
	"time"

	"github.com/wix/kiss-fs/internal/metrics"
)

type timedOp struct {
	name  string
	start time.Time
}

func newTimedOp(name string) timedOp {
	return timedOp{name: name, start: time.Now()}
}

func (o timedOp) done(err error) {
	metrics.RecordStoreOp(o.name, err, o.start)
}

type sseGauge struct {
	n int64
}

var sseClients sseGauge

func (g *sseGauge) inc() {
	metrics.SetSSEConnectionsActive(atomic.AddInt64(&g.n, 1))
}

func (g *sseGauge) dec() {
	metrics.SetSSEConnectionsActive(atomic.AddInt64(&g.n, -1))
}
