package flowgate

import (
	"log/slog"

	"github.com/hossein/flowgate/pkg/flowgate/rwnd"
)

// run is the scheduler loop. Every epoch it decides whether a rotation is
// needed and, if so, swaps the oldest paused flows in and the oldest
// active flows out. It runs until the gate is closed.
func (g *Gate) run() {
	ticker := g.clk.Ticker(g.cfg.Epoch())
	defer ticker.Stop()

	for {
		select {
		case <-g.closed:
			slog.Debug("sched: loop stopping")
			return
		case <-ticker.C:
		}

		if g.substrate() == nil {
			// Nothing has been accepted yet.
			continue
		}
		if !g.rotationNeeded() {
			continue
		}
		g.rotate()
	}
}

// rotationNeeded peeks at the queue lengths without taking the mutex.
// When the active set is within capacity and nothing is waiting, there is
// nothing to promote and nothing over capacity, so the pass is skipped.
func (g *Gate) rotationNeeded() bool {
	active := g.queues.activeLen.Load()
	paused := g.queues.pausedLen.Load()
	return int64(active) > int64(g.cfg.MaxActiveFlows) || paused > 0
}

// rotate executes one rotation pass under the queue mutex.
//
// Promotion first: pop paused flows until capacity-many have verified
// against the registry or the queue is empty. A popped fd whose registry
// entry is gone was closed since it was queued; it is discarded, never
// re-examined, so a dead fd at the front can never stall promotion.
//
// Then the oldest active flows are demoted until the active queue is
// back within capacity. Between the two phases the active queue briefly
// holds up to capacity plus the newly promoted flows; that is bounded and
// invisible outside the mutex.
func (g *Gate) rotate() {
	capacity := int(g.cfg.MaxActiveFlows)
	e := g.substrate()
	staged := make([]int, 0, capacity)

	q := &g.queues
	q.mu.Lock()
	defer q.mu.Unlock()

	ghosts := 0
	for len(q.paused) > 0 && len(staged) < capacity {
		fd := q.paused[0]
		q.paused = q.paused[1:]
		if g.reg.Contains(fd) {
			staged = append(staged, fd)
		} else {
			ghosts++
		}
	}
	if ghosts > 0 {
		slog.Debug("sched: discarded ghost entries", "count", ghosts)
		g.m.ghostsDiscarded.Add(float64(ghosts))
	}

	for _, fd := range staged {
		q.active = append(q.active, fd)
		g.reg.Visit(fd, func(key rwnd.FlowKey) {
			if err := e.Clear(key); err != nil {
				slog.Error("sched: activating flow failed", "fd", fd, "flow", key, "err", err)
			}
		})
		g.sock.triggerAck(fd)
	}

	demoted := 0
	for len(q.active) > capacity {
		fd := q.active[0]
		q.active = q.active[1:]
		q.paused = append(q.paused, fd)
		g.reg.Visit(fd, func(key rwnd.FlowKey) {
			if err := e.SetZero(key); err != nil {
				slog.Error("sched: pausing flow failed", "fd", fd, "flow", key, "err", err)
			}
		})
		g.sock.triggerAck(fd)
		demoted++
	}

	q.syncLens()

	g.m.rotations.Inc()
	g.m.promotions.Add(float64(len(staged)))
	g.m.demotions.Add(float64(demoted))
	slog.Info("sched: rotation pass complete",
		"promoted", len(staged),
		"demoted", demoted,
		"active", len(q.active),
		"paused", len(q.paused),
	)
}
