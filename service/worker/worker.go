// Package worker implements the execution service: it claims jobs from the
// execute channel, runs them against the local site's providers, and relays
// jobs targeting other sites over the uplink channel. The worker never
// crashes on a bad job; failures become Error responses.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/bus"
	"github.com/earth2dfm/dfm/dfmerror"
	"github.com/earth2dfm/dfm/execute"
	"github.com/earth2dfm/dfm/request"
	"github.com/earth2dfm/dfm/store"
	"github.com/earth2dfm/dfm/telemetry"
)

type (
	// Options configures the worker.
	Options struct {
		// Site resolves providers for local execution. Required.
		Site *execute.Site
		// Store is the keyed state store. Required.
		Store store.Store
		// Bus is the coordination bus. Required.
		Bus bus.Bus
		// Heartbeat is the stall-reporting cadence for running pipelines.
		Heartbeat time.Duration
		// Logger receives diagnostics. Defaults to no-op.
		Logger telemetry.Logger
	}

	// Worker consumes and executes jobs.
	Worker struct {
		site      *execute.Site
		store     store.Store
		bus       bus.Bus
		heartbeat time.Duration
		log       telemetry.Logger
	}
)

// New validates the options and builds the worker.
func New(opts Options) (*Worker, error) {
	if opts.Site == nil {
		return nil, errors.New("site is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("bus is required")
	}
	return &Worker{
		site:      opts.Site,
		store:     opts.Store,
		bus:       opts.Bus,
		heartbeat: opts.Heartbeat,
		log:       telemetry.Or(opts.Logger),
	}, nil
}

// Run claims jobs from the execute channel until ctx is done. Each job runs
// in its own goroutine so a slow pipeline does not block the queue; the
// delivery is acknowledged only after the handler returns, so an interrupted
// job is redelivered.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.bus.Subscribe(ctx, bus.ExecuteChannel)
	if err != nil {
		return err
	}
	defer sub.Close(context.WithoutCancel(ctx))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-sub.C():
			if !ok {
				return nil
			}
			go func(d bus.Delivery) {
				w.Handle(ctx, d.Payload)
				if err := d.Ack(ctx); err != nil {
					w.log.Warn(ctx, "ack job delivery", "err", err.Error())
				}
			}(d)
		}
	}
}

// Handle executes one claimed job. Every failure path is contained: panics
// are recovered and failures surface as Error responses on the request.
func (w *Worker) Handle(ctx context.Context, payload []byte) {
	var job api.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		w.log.Error(ctx, "discard malformed job", "err", err.Error())
		return
	}

	thisSite := request.ResolveThisSite(ctx, w.store, w.site.Name())
	req, err := request.New(request.Options{
		RequestID:   job.RequestID,
		HomeSite:    job.HomeSite,
		ThisSite:    thisSite,
		IsDiscovery: job.IsDiscovery,
		Store:       w.store,
		Bus:         w.bus,
		Logger:      w.log,
	})
	if err != nil {
		w.log.Error(ctx, "discard job without request identity", "err", err.Error())
		return
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error(ctx, "recovered job panic",
				"request_id", job.RequestID.String(), "panic", fmt.Sprint(r))
			if err := req.SendError(ctx, nil, dfmerror.Server("job execution panic: %v", r)); err != nil {
				w.log.Warn(ctx, "emit panic response", "err", err.Error())
			}
		}
	}()

	if job.Execute == nil {
		w.fail(ctx, req, dfmerror.Data("job carries no execute block"))
		return
	}

	// A block bound to another site is relayed, not executed here.
	if target := job.Execute.Site; target != "" && target != thisSite {
		pkg := api.NewPackage(thisSite, target, job)
		if err := bus.PublishJSON(ctx, w.bus, bus.UplinkChannel, pkg); err != nil {
			w.fail(ctx, req, dfmerror.Wrap(dfmerror.Resource("relay job to site %s", target), err))
			return
		}
		w.log.Info(ctx, "relayed job",
			"request_id", job.RequestID.String(), "target_site", target)
		return
	}

	if job.IsDiscovery {
		w.discover(ctx, req, job)
		return
	}
	w.execute(ctx, req, job)
}

func (w *Worker) execute(ctx context.Context, req *request.Request, job api.Job) {
	g, err := execute.Compile(req, w.site, &job.Execute.Body)
	if err != nil {
		w.fail(ctx, req, err)
		return
	}
	if err := execute.Run(ctx, req, g, w.heartbeat, w.log); err != nil {
		w.fail(ctx, req, err)
		return
	}
	w.log.Info(ctx, "job complete", "request_id", req.ID().String(), "nodes", g.Len())
}

func (w *Worker) discover(ctx context.Context, req *request.Request, job api.Job) {
	dr, err := execute.Discover(ctx, req, w.site, &job.Execute.Body)
	if err != nil {
		w.fail(ctx, req, err)
		return
	}
	if err := req.Send(ctx, nil, api.ValueResponse{Value: dr}); err != nil {
		w.log.Error(ctx, "emit discovery response", "err", err.Error())
	}
}

// fail reports a job-level failure on the request.
func (w *Worker) fail(ctx context.Context, req *request.Request, err error) {
	w.log.Error(ctx, "job failed", "request_id", req.ID().String(), "err", err.Error())
	if sendErr := req.SendError(ctx, nil, err); sendErr != nil {
		w.log.Warn(ctx, "emit failure response", "err", sendErr.Error())
	}
}
