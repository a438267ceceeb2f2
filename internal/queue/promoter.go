package queue

import (
	"context"
	"log"
	"time"

	"github.com/velvacloud/queued/internal/events"
	"github.com/velvacloud/queued/internal/storage"
)

// Promoter periodically moves delayed jobs whose delay elapsed back to
// waiting, emitting one change event per queue that gained jobs.
type Promoter struct {
	store    *storage.Store
	bus      *events.Bus
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPromoter creates a promoter ticking at the given interval.
func NewPromoter(store *storage.Store, bus *events.Bus, interval time.Duration) *Promoter {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Promoter{
		store:    store,
		bus:      bus,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the promotion loop.
func (p *Promoter) Start() {
	log.Printf("[promoter] starting, interval=%v", p.interval)
	go p.loop()
}

// Stop halts the loop and waits for it to exit.
func (p *Promoter) Stop() {
	p.cancel()
	<-p.done
	log.Println("[promoter] stopped")
}

func (p *Promoter) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case now := <-ticker.C:
			queues, err := p.store.PromoteDue(now)
			if err != nil {
				log.Printf("[promoter] promote pass failed: %v", err)
				continue
			}
			for _, q := range queues {
				p.bus.Publish(q)
				log.Printf("[promoter] delayed jobs in %q became waiting", q)
			}
		}
	}
}
