package pool

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"twinpool/pkg/workspace"
)

// op one step of a random session: 0 scale, 1 toggle a worker's activity, 2 tick
type op struct {
	Kind  int
	Value int
}

// genOps encodes each step as one int: kind = v%3, value = v/3 - 1 (range -1..10)
func genOps() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, 35))
}

func decodeOps(raw []int) []op {
	ops := make([]op, 0, len(raw))
	for _, v := range raw {
		ops = append(ops, op{Kind: v % 3, Value: v/3 - 1})
	}
	return ops
}

// TestProperty_PartitionAndScaleContract drives the controller with random
// sessions against an in-memory workspace.
//
// Properties:
//   - after every settled step idle and busy partition the worker list
//   - RequestScale(n) succeeds iff busy <= n <= max, and a rejected request
//     leaves the summary unchanged
func TestProperty_PartitionAndScaleContract(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.MaxSize = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("idle and busy partition the pool; scale succeeds iff busy <= n <= max", prop.ForAll(
		func(raw []int) bool {
			ops := decodeOps(raw)
			ctx := context.Background()
			c := newTestController(Options{MaxCapacity: 6})
			ws := workspace.NewMemory("prop", "/tmp/prop.ws")
			defer ws.Close()
			c.SetWorkspace(ctx, ws)

			for _, o := range ops {
				switch o.Kind {
				case 0:
					before := c.Summary()
					err := c.RequestScale(ctx, o.Value)
					want := before.Busy <= o.Value && o.Value <= before.Max
					if (err == nil) != want {
						return false
					}
					if err != nil && c.Summary() != before {
						return false
					}
				case 1:
					workers := ws.Workers()
					if len(workers) == 0 {
						continue
					}
					w := workers[(o.Value+1)%len(workers)]
					ws.SetBusy(w.ID(), w.IsIdle())
				case 2:
					if err := c.Tick(ctx); err != nil {
						return false
					}
				}
				ws.Settle()

				if !partitioned(c) {
					return false
				}
			}

			// once settled and ticked, the view converges to the workspace
			if err := c.Tick(ctx); err != nil {
				return false
			}
			s := c.Summary()
			busy := 0
			for _, w := range ws.Workers() {
				if !w.IsIdle() {
					busy++
				}
			}
			return s.All == len(ws.Workers()) && s.Busy == busy && s.Idle+s.Busy == s.All
		},
		genOps(),
	))

	properties.TestingRun(t)
}

func partitioned(c *Controller) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.idle {
		if _, ok := c.busy[id]; ok {
			return false
		}
	}
	if len(c.idle)+len(c.busy) != len(c.workers) {
		return false
	}
	for _, w := range c.workers {
		if !c.knownLocked(w.ID()) {
			return false
		}
	}
	return true
}
