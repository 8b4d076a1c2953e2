package providers

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"raggate-api/internal/metrics"
)

// Pool bounds concurrent connections to one backend provider. Acquire blocks
// until a slot frees up or the request context is cancelled; Release returns
// the slot. The in-flight count is observable so tests can verify that
// cancelled streams return the pool to baseline.
type Pool struct {
	name     string
	slots    chan struct{}
	inflight atomic.Int64
}

func NewPool(name string, max int) *Pool {
	return &Pool{
		name:  name,
		slots: make(chan struct{}, max),
	}
}

func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		n := p.inflight.Add(1)
		metrics.InflightConnections.WithLabelValues(p.name).Set(float64(n))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Release() {
	<-p.slots
	n := p.inflight.Add(-1)
	metrics.InflightConnections.WithLabelValues(p.name).Set(float64(n))
}

// InFlight reports connections currently held against this provider.
func (p *Pool) InFlight() int64 {
	return p.inflight.Load()
}

// pooledBody ties the pool slot to the response body so draining or closing
// the stream always releases the connection exactly once.
type pooledBody struct {
	io.ReadCloser
	pool *Pool
	once sync.Once
}

func (b *pooledBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.pool.Release)
	return err
}
