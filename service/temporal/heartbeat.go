package temporal

import (
	"context"
	"sync"
	"time"

	"github.com/brojonat/basketswap/service/basket"
	"go.temporal.io/sdk/activity"
)

// heartbeatInterval is how often ExecuteOrder heartbeats while the engine is
// waiting on the ledger. It must stay well below ExecuteHeartbeatTimeout.
const heartbeatInterval = 10 * time.Second

// progressHeartbeat keeps ExecuteOrder alive and carries the engine's latest
// result snapshot as heartbeat details, so a timed-out execution still tells
// the workflow which legs landed.
type progressHeartbeat struct {
	ctx    context.Context
	active bool

	mu     sync.Mutex
	latest *basket.ExecutionResult

	done chan struct{}
	wg   sync.WaitGroup
}

// startProgressHeartbeat starts the ticker. Outside an activity context (plain
// unit tests) it only keeps the latest snapshot.
func startProgressHeartbeat(ctx context.Context, every time.Duration) *progressHeartbeat {
	p := &progressHeartbeat{
		ctx:    ctx,
		active: activity.IsActivity(ctx),
		done:   make(chan struct{}),
	}
	if !p.active {
		return p
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.beat()
			}
		}
	}()
	return p
}

// record stores a snapshot and heartbeats it right away.
func (p *progressHeartbeat) record(res *basket.ExecutionResult) {
	p.mu.Lock()
	p.latest = res
	p.mu.Unlock()
	p.beat()
}

func (p *progressHeartbeat) snapshot() *basket.ExecutionResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

func (p *progressHeartbeat) beat() {
	if !p.active {
		return
	}
	if latest := p.snapshot(); latest != nil {
		activity.RecordHeartbeat(p.ctx, latest)
		return
	}
	activity.RecordHeartbeat(p.ctx)
}

func (p *progressHeartbeat) stop() {
	close(p.done)
	p.wg.Wait()
}
