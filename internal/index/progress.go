package index

import (
	"context"
	"runtime"
	"time"

	"github.com/kestrelab/annex/pkg/models"
)

// progressInterval throttles progress emission. Phase transitions and
// terminal states bypass the throttle.
const progressInterval = 500 * time.Millisecond

// emit sends a progress snapshot to the sink, throttled unless forced.
func (o *Orchestrator) emit(p models.Progress, force bool) {
	if o.progress == nil {
		return
	}
	now := time.Now()
	if !force && now.Sub(o.lastEmit) < progressInterval {
		return
	}
	o.lastEmit = now
	o.progress(p)
}

// pacer is the cooperative-yield checkpoint used inside long-running loops:
// every N units of work it yields the processor and checks for
// cancellation, so a concurrent caller never waits longer than one
// checkpoint interval.
type pacer struct {
	n     int
	every int
}

func newPacer(every int) *pacer {
	if every <= 0 {
		every = 1
	}
	return &pacer{every: every}
}

func (p *pacer) tick(ctx context.Context) error {
	p.n++
	if p.n%p.every == 0 {
		runtime.Gosched()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
