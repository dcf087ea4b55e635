package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/dfmerror"
	"github.com/earth2dfm/dfm/execute/cache"
	"github.com/earth2dfm/dfm/execute/discovery"
	"github.com/earth2dfm/dfm/request"
	"github.com/earth2dfm/dfm/telemetry"
)

type (
	// Inputs binds the upstream adapters of one node by dependency name.
	Inputs map[string][]Adapter

	// Adapter executes one FunctionCall of one request. Concrete adapters
	// embed Base for the memoized stream, cache hooks, and defaults, and
	// implement StreamBody.
	Adapter interface {
		// Shared returns the per-adapter state provided by embedding Base.
		Shared() *Base
		// Call returns the node the adapter executes.
		Call() api.Call
		// Inputs returns the bound upstream adapters.
		Inputs() Inputs
		// StreamBody produces the node's values through emit. Returning an
		// error poisons the stream.
		StreamBody(ctx context.Context, emit func(any) error) error
		// PrepareToSend converts a yielded value to a response body.
		PrepareToSend(v any) (api.ResponseBody, error)
		// LocalHashDict returns the parameters contributing to the cache
		// fingerprint.
		LocalHashDict() (map[string]any, error)
		// Advisors enumerates the adapter's field advisors for discovery.
		Advisors() []discovery.FieldAdvisor
		// WriteValue persists one stream element as a cache artifact.
		WriteValue(ctx context.Context, dir string, index int, v any) error
		// LoadValues reads n cached elements back in order.
		LoadValues(ctx context.Context, dir string, n int) ([]any, error)
	}

	// Base is the shared state embedded by every adapter.
	Base struct {
		req    *request.Request
		call   api.Call
		inputs Inputs
		cache  *cache.Backend
		log    telemetry.Logger

		mu          sync.Mutex
		stream      *Stream
		fingerprint string
		hashDict    map[string]any
	}
)

// NewBase builds the shared adapter state. cacheBackend may be nil to
// disable caching for the node.
func NewBase(req *request.Request, call api.Call, inputs Inputs, cacheBackend *cache.Backend, log telemetry.Logger) Base {
	return Base{
		req:    req,
		call:   call,
		inputs: inputs,
		cache:  cacheBackend,
		log:    telemetry.Or(log),
	}
}

// Shared returns the receiver so concrete adapters satisfy the interface by
// embedding. The accessor is not named after the type: the embedded field
// named Base would shadow a promoted method of the same name.
func (b *Base) Shared() *Base { return b }

// Call returns the node being executed.
func (b *Base) Call() api.Call { return b.call }

// Inputs returns the bound upstream adapters.
func (b *Base) Inputs() Inputs { return b.inputs }

// Meta returns the node header.
func (b *Base) Meta() *api.NodeMeta { return b.call.Meta() }

// Request returns the owning request context.
func (b *Base) Request() *request.Request { return b.req }

// Logger returns the adapter logger.
func (b *Base) Logger() telemetry.Logger { return b.log }

// CacheBackend returns the cache location, nil when caching is disabled.
func (b *Base) CacheBackend() *cache.Backend { return b.cache }

// PrepareToSend wraps the value as a Value response.
func (b *Base) PrepareToSend(v any) (api.ResponseBody, error) {
	return api.ValueResponse{Value: v}, nil
}

// Advisors returns no advisors; adapters supporting discovery override.
func (b *Base) Advisors() []discovery.FieldAdvisor { return nil }

// LocalHashDict derives the fingerprint inputs from the call parameters,
// excluding the node identifier, the output and force-compute flags, and the
// dependency reference fields.
func (b *Base) LocalHashDict() (map[string]any, error) {
	raw, err := api.MarshalCall(b.call)
	if err != nil {
		return nil, fmt.Errorf("serialize call: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode call fields: %w", err)
	}
	delete(fields, "node_id")
	delete(fields, "is_output")
	delete(fields, "force_compute")
	for _, ref := range b.call.InputRefs() {
		delete(fields, ref.Name)
	}
	return fields, nil
}

// WriteValue persists one element with the default JSON artifact codec.
func (b *Base) WriteValue(ctx context.Context, dir string, index int, v any) error {
	if b.cache == nil {
		return dfmerror.Server("adapter has no cache backend")
	}
	return b.cache.WriteJSON(dir, cache.ElementFile(index), v)
}

// LoadValues reads elements back with the default JSON artifact codec.
func (b *Base) LoadValues(ctx context.Context, dir string, n int) ([]any, error) {
	if b.cache == nil {
		return nil, dfmerror.Server("adapter has no cache backend")
	}
	values := make([]any, n)
	for i := 0; i < n; i++ {
		var v any
		if err := b.cache.ReadJSON(dir, cache.ElementFile(i), &v); err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// One returns the single upstream bound under name.
func (in Inputs) One(name string) (Adapter, error) {
	bound := in[name]
	if len(bound) != 1 {
		return nil, dfmerror.Server("input %q binds %d adapters, want 1", name, len(bound))
	}
	return bound[0], nil
}

// List returns the upstreams bound under name.
func (in Inputs) List(name string) []Adapter { return in[name] }

// Fingerprint computes the adapter's cache fingerprint: the digest of its
// local hash dictionary merged with the recursively computed fingerprints of
// its inputs, keyed by dependency name. The result is memoized.
func Fingerprint(a Adapter) (string, error) {
	b := a.Shared()
	b.mu.Lock()
	if b.fingerprint != "" {
		fp := b.fingerprint
		b.mu.Unlock()
		return fp, nil
	}
	b.mu.Unlock()

	dict, err := fingerprintDict(a)
	if err != nil {
		return "", err
	}
	digest, err := cache.Digest(dict)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	b.fingerprint = digest
	b.hashDict = dict
	b.mu.Unlock()
	return digest, nil
}

// fingerprintDict assembles the full hash dictionary for an adapter.
func fingerprintDict(a Adapter) (map[string]any, error) {
	local, err := a.LocalHashDict()
	if err != nil {
		return nil, err
	}
	dict := make(map[string]any, len(local)+len(a.Inputs()))
	for k, v := range local {
		dict[k] = v
	}
	for _, ref := range a.Call().InputRefs() {
		bound := a.Inputs().List(ref.Name)
		if ref.List {
			fps := make([]any, len(bound))
			for i, in := range bound {
				fp, err := Fingerprint(in)
				if err != nil {
					return nil, err
				}
				fps[i] = fp
			}
			dict[ref.Name] = fps
			continue
		}
		if len(bound) == 1 {
			fp, err := Fingerprint(bound[0])
			if err != nil {
				return nil, err
			}
			dict[ref.Name] = fp
		}
	}
	return dict, nil
}

// GetOrCreateStream returns the adapter's stream, creating it on first use.
// Creation prefers a sentinel-valid cache when force_compute is unset; a
// cached output replays its values as responses immediately. The live path
// launches the producer plus, when caching is configured, a background cache
// writer consuming the same stream. Produced values of output nodes become
// Value responses; producer failures become Error responses tagged with the
// node.
func GetOrCreateStream(ctx context.Context, a Adapter) (*Stream, error) {
	b := a.Shared()
	b.mu.Lock()
	if b.stream != nil {
		s := b.stream
		b.mu.Unlock()
		s.Start(ctx)
		return s, nil
	}
	b.mu.Unlock()

	meta := b.Meta()
	if b.cache != nil && !meta.ForceCompute {
		if values, ok := readCachedValues(ctx, a); ok {
			if meta.IsOutput {
				if err := replayResponses(ctx, a, values); err != nil {
					return nil, err
				}
			}
			s := FromValues(values)
			b.mu.Lock()
			b.stream = s
			b.mu.Unlock()
			return s, nil
		}
	}

	opts := []StreamOption{}
	if meta.IsOutput {
		nodeID := meta.NodeID
		opts = append(opts, WithTap(func(tapCtx context.Context, v any) error {
			body, err := a.PrepareToSend(v)
			if err != nil {
				return err
			}
			return b.req.Send(tapCtx, &nodeID, body)
		}))
	}
	s := NewStream(producerFor(a), opts...)

	b.mu.Lock()
	if b.stream != nil {
		existing := b.stream
		b.mu.Unlock()
		existing.Start(ctx)
		return existing, nil
	}
	b.stream = s
	b.mu.Unlock()

	s.Start(ctx)
	if b.cache != nil {
		go writeCache(ctx, a, s.Iterator())
	}
	return s, nil
}

// producerFor wraps StreamBody so producer failures surface as Error
// responses tagged with the node before poisoning the stream.
func producerFor(a Adapter) Producer {
	return func(ctx context.Context, emit func(any) error) error {
		err := a.StreamBody(ctx, emit)
		if err == nil {
			return nil
		}
		if !errors.Is(err, context.Canceled) {
			b := a.Shared()
			nodeID := b.Meta().NodeID
			if sendErr := b.req.SendError(ctx, &nodeID, err); sendErr != nil {
				b.log.Warn(ctx, "emit error response",
					"node_id", nodeID.String(), "err", sendErr.Error())
			}
		}
		return err
	}
}

// replayResponses re-emits cached values as Value responses.
func replayResponses(ctx context.Context, a Adapter, values []any) error {
	b := a.Shared()
	nodeID := b.Meta().NodeID
	for _, v := range values {
		body, err := a.PrepareToSend(v)
		if err != nil {
			return err
		}
		if err := b.req.Send(ctx, &nodeID, body); err != nil {
			return err
		}
	}
	return nil
}

// readCachedValues attempts the cache read path. Any failure degrades to
// live computation.
func readCachedValues(ctx context.Context, a Adapter) ([]any, bool) {
	b := a.Shared()
	digest, err := Fingerprint(a)
	if err != nil {
		b.log.Debug(ctx, "cache fingerprint failed", "err", err.Error())
		return nil, false
	}
	dir := b.cache.Dir(digest)
	sentinel, err := b.cache.ReadSentinel(dir)
	if err != nil {
		return nil, false
	}
	values, err := a.LoadValues(ctx, dir, sentinel.NumElementsWritten)
	if err != nil {
		b.log.Debug(ctx, "cache load failed", "dir", dir, "err", err.Error())
		return nil, false
	}
	return values, true
}

// writeCache is the background cache writer: it consumes the live stream
// and publishes the sentinel only after normal termination. All failures
// are swallowed, leaving the directory without a sentinel.
func writeCache(ctx context.Context, a Adapter, it *Iterator) {
	b := a.Shared()
	digest, err := Fingerprint(a)
	if err != nil {
		b.log.Debug(ctx, "cache fingerprint failed", "err", err.Error())
		return
	}
	b.mu.Lock()
	hashDict := b.hashDict
	b.mu.Unlock()

	dir := b.cache.Dir(digest)
	if err := b.cache.Prepare(dir, hashDict); err != nil {
		b.log.Debug(ctx, "cache prepare failed", "dir", dir, "err", err.Error())
		return
	}
	count := 0
	for {
		v, err := it.Next(ctx)
		if errors.Is(err, ErrEnd) {
			if err := b.cache.WriteSentinel(dir, count); err != nil {
				b.log.Debug(ctx, "cache sentinel failed", "dir", dir, "err", err.Error())
			}
			return
		}
		if err != nil {
			b.log.Debug(ctx, "cache writer abandoned", "dir", dir, "err", err.Error())
			return
		}
		if err := a.WriteValue(ctx, dir, count, v); err != nil {
			b.log.Debug(ctx, "cache write failed", "dir", dir, "err", err.Error())
			return
		}
		count++
	}
}
