// Package request carries the per-request execution context: response
// emission into the keyed store, request-scoped mailboxes, and re-scheduling
// of subgraphs through the bus.
package request

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/bus"
	"github.com/earth2dfm/dfm/store"
	"github.com/earth2dfm/dfm/telemetry"
)

type (
	// Options configures a request context.
	Options struct {
		// RequestID identifies the request. Required.
		RequestID uuid.UUID
		// HomeSite is the site the submitting client reached.
		HomeSite string
		// ThisSite is the site executing the request.
		ThisSite string
		// IsDiscovery marks discovery-mode requests.
		IsDiscovery bool
		// Store is the keyed state store. Required.
		Store store.Store
		// Bus is the coordination bus. Required.
		Bus bus.Bus
		// Logger receives emission diagnostics. Defaults to no-op.
		Logger telemetry.Logger
	}

	// Request is the execution context handed to every adapter of one
	// claimed job.
	Request struct {
		id          uuid.UUID
		homeSite    string
		thisSite    string
		isDiscovery bool
		store       store.Store
		bus         bus.Bus
		log         telemetry.Logger
	}
)

// New constructs a request context.
func New(opts Options) (*Request, error) {
	if opts.RequestID == uuid.Nil {
		return nil, errors.New("request id is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("bus is required")
	}
	return &Request{
		id:          opts.RequestID,
		homeSite:    opts.HomeSite,
		thisSite:    opts.ThisSite,
		isDiscovery: opts.IsDiscovery,
		store:       opts.Store,
		bus:         opts.Bus,
		log:         telemetry.Or(opts.Logger),
	}, nil
}

// ID returns the request identifier.
func (r *Request) ID() uuid.UUID { return r.id }

// HomeSite returns the site the client submitted to.
func (r *Request) HomeSite() string { return r.homeSite }

// ThisSite returns the site executing the request.
func (r *Request) ThisSite() string { return r.thisSite }

// IsDiscovery reports discovery mode.
func (r *Request) IsDiscovery() bool { return r.isDiscovery }

// Store exposes the keyed store for collaborators that need raw access.
func (r *Request) Store() store.Store { return r.store }

// Send appends a response to the request document.
func (r *Request) Send(ctx context.Context, nodeID *uuid.UUID, body api.ResponseBody) error {
	resp := api.NewResponse(nodeID, body)
	if err := r.store.AppendResponse(ctx, r.id, resp); err != nil {
		return fmt.Errorf("append response to request %s: %w", r.id, err)
	}
	return nil
}

// SendValue appends a Value response for a node.
func (r *Request) SendValue(ctx context.Context, nodeID *uuid.UUID, v any) error {
	return r.Send(ctx, nodeID, api.ValueResponse{Value: v})
}

// SendStatus appends a Status response.
func (r *Request) SendStatus(ctx context.Context, message string) error {
	return r.Send(ctx, nil, api.StatusResponse{Site: r.thisSite, Message: message})
}

// SendHeartbeat appends a Heartbeat response.
func (r *Request) SendHeartbeat(ctx context.Context) error {
	return r.Send(ctx, nil, api.HeartbeatResponse{Site: r.thisSite})
}

// SendError converts err to its wire form and appends it, tagged with the
// failing node when known.
func (r *Request) SendError(ctx context.Context, nodeID *uuid.UUID, err error) error {
	return r.Send(ctx, nodeID, api.ErrorResponseFromError(err))
}

// ScheduleExecute re-publishes a subgraph as a new Job for this request. A
// deadline routes the job through the scheduler channel.
func (r *Request) ScheduleExecute(ctx context.Context, ex *api.Execute, deadline *api.Deadline) error {
	job := api.Job{
		HomeSite:    r.homeSite,
		RequestID:   r.id,
		Deadline:    deadline,
		IsDiscovery: false,
		Execute:     ex,
	}
	channel := bus.ExecuteChannel
	if deadline != nil {
		channel = bus.SchedulerChannel
	}
	if err := bus.PublishJSON(ctx, r.bus, channel, job); err != nil {
		return fmt.Errorf("schedule execute for request %s: %w", r.id, err)
	}
	return nil
}

// PutMailbox writes a request-scoped mailbox value.
func (r *Request) PutMailbox(ctx context.Context, mailbox, value string) error {
	return r.store.Put(ctx, store.MailboxKey(r.id, mailbox), value)
}

// GetMailbox reads a request-scoped mailbox value.
func (r *Request) GetMailbox(ctx context.Context, mailbox string) (string, bool, error) {
	return r.store.Get(ctx, store.MailboxKey(r.id, mailbox))
}

// ResolveThisSite reads the site-advertising key, falling back to the
// configured name until the first publication.
func ResolveThisSite(ctx context.Context, st store.Store, fallback string) string {
	if v, ok, err := st.Get(ctx, store.ThisSiteKey); err == nil && ok && v != "" {
		return v
	}
	return fallback
}
