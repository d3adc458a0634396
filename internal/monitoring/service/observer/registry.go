package observer

import (
	"context"
	"sync"

	"github.com/qiniu/logmon/internal/monitoring/metrics"
	"github.com/rs/zerolog/log"
)

// Conn is one live observer channel. Send must be safe to call from multiple goroutines.
type Conn interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Registry owns the set of live observer connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Add registers c. A connection with the same id replaces the previous one.
func (r *Registry) Add(c Conn) {
	r.mu.Lock()
	r.conns[c.ID()] = c
	n := len(r.conns)
	r.mu.Unlock()

	metrics.ObserversConnected.Set(float64(n))
	log.Debug().Str("observer", c.ID()).Int("observers", n).Msg("observer connected")
}

// Remove unregisters the connection with the given id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	n := len(r.conns)
	r.mu.Unlock()

	if ok {
		metrics.ObserversConnected.Set(float64(n))
		log.Debug().Str("observer", id).Int("observers", n).Msg("observer removed")
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast sends msg to every connection registered when the call starts. Sends run
// concurrently. Connections whose send fails are closed and removed once the pass is
// complete. It returns the number of successful deliveries.
func (r *Registry) Broadcast(ctx context.Context, msg []byte) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []Conn
	)
	for _, c := range targets {
		wg.Add(1)
		go func(c Conn) {
			defer wg.Done()
			if err := c.Send(ctx, msg); err != nil {
				log.Warn().Err(err).Str("observer", c.ID()).Msg("observer send failed, dropping connection")
				mu.Lock()
				failed = append(failed, c)
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	for _, c := range failed {
		metrics.ObserverSendFailures.Inc()
		r.removeIfSame(c)
		_ = c.Close()
	}
	return len(targets) - len(failed)
}

// removeIfSame drops c unless its id has since been taken by a newer connection.
func (r *Registry) removeIfSame(c Conn) {
	r.mu.Lock()
	if cur, ok := r.conns[c.ID()]; ok && cur == c {
		delete(r.conns, c.ID())
	}
	n := len(r.conns)
	r.mu.Unlock()
	metrics.ObserversConnected.Set(float64(n))
}

// CloseAll closes and removes every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	metrics.ObserversConnected.Set(0)
}
