package execute

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/earth2dfm/dfm/execute/adapter"
	"github.com/earth2dfm/dfm/request"
	"github.com/earth2dfm/dfm/telemetry"
)

// Run pumps every leaf of a compiled graph to exhaustion. A poisoned leaf
// does not stop its siblings: the producer already reported the failure as
// an Error response, so the pump just stops consuming that stream. While no
// leaf makes progress, a Heartbeat response is emitted every interval.
func Run(ctx context.Context, req *request.Request, g *Graph, heartbeat time.Duration, log telemetry.Logger) error {
	log = telemetry.Or(log)
	var progress atomic.Int64
	done := make(chan struct{})

	if heartbeat > 0 {
		go func() {
			ticker := time.NewTicker(heartbeat)
			defer ticker.Stop()
			last := int64(0)
			for {
				select {
				case <-done:
					return
				case <-ctx.Done():
					return
				case <-ticker.C:
					now := progress.Load()
					if now == last {
						if err := req.SendHeartbeat(ctx); err != nil {
							log.Warn(ctx, "emit heartbeat", "err", err.Error())
						}
					}
					last = now
				}
			}
		}()
	}

	var eg errgroup.Group
	for _, leaf := range g.Leaves() {
		leaf := leaf
		eg.Go(func() error {
			s, err := adapter.GetOrCreateStream(ctx, leaf)
			if err != nil {
				nodeID := leaf.Shared().Meta().NodeID
				if sendErr := req.SendError(ctx, &nodeID, err); sendErr != nil {
					log.Warn(ctx, "emit compile error response", "err", sendErr.Error())
				}
				return nil
			}
			it := s.Iterator()
			for {
				_, err := it.Next(ctx)
				if errors.Is(err, adapter.ErrEnd) {
					return nil
				}
				if err != nil {
					// Already reported by the producer wrapper.
					return nil
				}
				progress.Add(1)
			}
		})
	}
	err := eg.Wait()
	close(done)
	return err
}
