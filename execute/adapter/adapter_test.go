package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/bus/inmem"
	"github.com/earth2dfm/dfm/execute/cache"
	"github.com/earth2dfm/dfm/request"
	storemem "github.com/earth2dfm/dfm/store/inmem"
)

type countCall struct {
	api.NodeMeta
	Count int     `json:"count"`
	Label string  `json:"label,omitempty"`
	Input *uuid.UUID `json:"input,omitempty"`
}

func (c *countCall) Class() string { return "test.Count" }

func (c *countCall) InputRefs() []api.InputRef {
	if c.Input == nil {
		return nil
	}
	return []api.InputRef{{Name: "input", IDs: []uuid.UUID{*c.Input}}}
}

type countAdapter struct {
	Base
	call    *countCall
	runs    int
	failAt  int
	failErr error
}

// Embedding Base must be enough to satisfy Adapter alongside StreamBody.
var _ Adapter = (*countAdapter)(nil)

func (a *countAdapter) StreamBody(ctx context.Context, emit func(any) error) error {
	a.runs++
	for i := 0; i < a.call.Count; i++ {
		if a.failErr != nil && i == a.failAt {
			return a.failErr
		}
		if err := emit(float64(i)); err != nil {
			return err
		}
	}
	return nil
}

func newTestRequest(t *testing.T) (*request.Request, *storemem.Store) {
	t.Helper()
	st := storemem.New()
	id := uuid.New()
	require.NoError(t, st.CreateRequest(context.Background(), &api.RequestState{RequestID: id}))
	req, err := request.New(request.Options{
		RequestID: id,
		HomeSite:  "earth2",
		ThisSite:  "earth2",
		Store:     st,
		Bus:       inmem.New(),
	})
	require.NoError(t, err)
	return req, st
}

func newCountAdapter(t *testing.T, req *request.Request, count int, backend *cache.Backend) *countAdapter {
	t.Helper()
	call := &countCall{Count: count}
	api.Normalize(call)
	a := &countAdapter{call: call}
	a.Base = NewBase(req, call, nil, backend, nil)
	return a
}

func TestStreamFanOutSameOrder(t *testing.T) {
	req, _ := newTestRequest(t)
	a := newCountAdapter(t, req, 5, nil)
	ctx := context.Background()

	s, err := GetOrCreateStream(ctx, a)
	require.NoError(t, err)
	again, err := GetOrCreateStream(ctx, a)
	require.NoError(t, err)
	assert.Same(t, s, again)

	first, err := s.Collect(ctx)
	require.NoError(t, err)
	second, err := s.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 5)
	assert.Equal(t, 1, a.runs, "producer must run once across consumers")
}

func TestStreamPoisonedByProducerError(t *testing.T) {
	req, st := newTestRequest(t)
	a := newCountAdapter(t, req, 5, nil)
	a.failAt = 2
	a.failErr = errors.New("upstream service unavailable")
	ctx := context.Background()

	s, err := GetOrCreateStream(ctx, a)
	require.NoError(t, err)
	values, err := s.Collect(ctx)
	require.Error(t, err)
	assert.Len(t, values, 2)

	// The failure also lands in the request document as an Error response.
	responses, err := st.Responses(ctx, req.ID(), 0, 0)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	body, ok := responses[0].Body.(api.ErrorResponse)
	require.True(t, ok)
	assert.Contains(t, body.Message, "unavailable")
	require.NotNil(t, responses[0].NodeID)
	assert.Equal(t, a.call.NodeID, *responses[0].NodeID)
}

func TestOutputTapEmitsValueResponses(t *testing.T) {
	req, st := newTestRequest(t)
	a := newCountAdapter(t, req, 3, nil)
	a.call.IsOutput = true
	ctx := context.Background()

	s, err := GetOrCreateStream(ctx, a)
	require.NoError(t, err)
	_, err = s.Collect(ctx)
	require.NoError(t, err)

	responses, err := st.Responses(ctx, req.ID(), 0, 0)
	require.NoError(t, err)
	require.Len(t, responses, 3)
	for i, resp := range responses {
		body, ok := resp.Body.(api.ValueResponse)
		require.True(t, ok)
		assert.Equal(t, float64(i), body.Value)
	}
}

func TestFingerprintStableAndSensitive(t *testing.T) {
	req, _ := newTestRequest(t)

	a := newCountAdapter(t, req, 3, nil)
	b := newCountAdapter(t, req, 3, nil)
	b.call.NodeID = uuid.New()
	b.call.IsOutput = true
	b.call.ForceCompute = true

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb, "identity and delivery flags must not affect the fingerprint")

	c := newCountAdapter(t, req, 4, nil)
	fc, err := Fingerprint(c)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fc)
}

func TestFingerprintIncludesInputChain(t *testing.T) {
	req, _ := newTestRequest(t)

	up := newCountAdapter(t, req, 2, nil)
	upID := up.call.NodeID

	mk := func(label string) *countAdapter {
		call := &countCall{Count: 1, Label: label, Input: &upID}
		api.Normalize(call)
		a := &countAdapter{call: call}
		a.Base = NewBase(req, call, Inputs{"input": {up}}, nil, nil)
		return a
	}
	f1, err := Fingerprint(mk("x"))
	require.NoError(t, err)
	f2, err := Fingerprint(mk("x"))
	require.NoError(t, err)
	f3, err := Fingerprint(mk("y"))
	require.NoError(t, err)
	assert.Equal(t, f1, f2)
	assert.NotEqual(t, f1, f3)

	// A different upstream parameterization changes the downstream digest.
	up2 := newCountAdapter(t, req, 3, nil)
	up2ID := up2.call.NodeID
	call := &countCall{Count: 1, Label: "x", Input: &up2ID}
	api.Normalize(call)
	other := &countAdapter{call: call}
	other.Base = NewBase(req, call, Inputs{"input": {up2}}, nil, nil)
	f4, err := Fingerprint(other)
	require.NoError(t, err)
	assert.NotEqual(t, f1, f4)
}

func waitForSentinel(t *testing.T, backend *cache.Backend, dir string) *cache.Sentinel {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, err := backend.ReadSentinel(dir); err == nil {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sentinel never appeared in %s", dir)
	return nil
}

func TestCacheWriteThenReplay(t *testing.T) {
	backend := &cache.Backend{Fs: afero.NewMemMapFs(), Root: "/cache"}
	ctx := context.Background()

	req, _ := newTestRequest(t)
	writer := newCountAdapter(t, req, 3, backend)
	s, err := GetOrCreateStream(ctx, writer)
	require.NoError(t, err)
	_, err = s.Collect(ctx)
	require.NoError(t, err)

	digest, err := Fingerprint(writer)
	require.NoError(t, err)
	dir := backend.Dir(digest)
	sentinel := waitForSentinel(t, backend, dir)
	assert.Equal(t, 3, sentinel.NumElementsWritten)

	// A fresh adapter with the same parameters replays from cache, never
	// running its body, and re-emits output responses.
	req2, st2 := newTestRequest(t)
	reader := newCountAdapter(t, req2, 3, backend)
	reader.call.IsOutput = true
	rs, err := GetOrCreateStream(ctx, reader)
	require.NoError(t, err)
	values, err := rs.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(0), float64(1), float64(2)}, values)
	assert.Zero(t, reader.runs)

	responses, err := st2.Responses(ctx, req2.ID(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, responses, 3)
}

func TestCacheSkippedOnForceCompute(t *testing.T) {
	backend := &cache.Backend{Fs: afero.NewMemMapFs(), Root: "/cache"}
	ctx := context.Background()

	req, _ := newTestRequest(t)
	writer := newCountAdapter(t, req, 2, backend)
	s, err := GetOrCreateStream(ctx, writer)
	require.NoError(t, err)
	_, err = s.Collect(ctx)
	require.NoError(t, err)
	digest, err := Fingerprint(writer)
	require.NoError(t, err)
	waitForSentinel(t, backend, backend.Dir(digest))

	req2, _ := newTestRequest(t)
	forced := newCountAdapter(t, req2, 2, backend)
	forced.call.ForceCompute = true
	fs, err := GetOrCreateStream(ctx, forced)
	require.NoError(t, err)
	_, err = fs.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, forced.runs, "force_compute must bypass the cache")
}

func TestCacheAbandonedOnFailureLeavesNoSentinel(t *testing.T) {
	backend := &cache.Backend{Fs: afero.NewMemMapFs(), Root: "/cache"}
	ctx := context.Background()

	req, _ := newTestRequest(t)
	a := newCountAdapter(t, req, 5, backend)
	a.failAt = 1
	a.failErr = errors.New("boom")
	s, err := GetOrCreateStream(ctx, a)
	require.NoError(t, err)
	_, err = s.Collect(ctx)
	require.Error(t, err)
	<-s.Done()
	time.Sleep(20 * time.Millisecond)

	digest, err := Fingerprint(a)
	require.NoError(t, err)
	_, err = backend.ReadSentinel(backend.Dir(digest))
	assert.Error(t, err, "a failed stream must not publish a sentinel")
}

func TestPullZipStopsAtShorter(t *testing.T) {
	req, _ := newTestRequest(t)
	ctx := context.Background()

	left := newCountAdapter(t, req, 4, nil)
	right := newCountAdapter(t, req, 2, nil)
	leftID, rightID := left.call.NodeID, right.call.NodeID

	call := &countCall{Count: 0, Input: &leftID}
	api.Normalize(call)
	_ = rightID
	zip := &countAdapter{call: call}
	zip.Base = NewBase(req, call, Inputs{"lhs": {left}, "rhs": {right}}, nil, nil)

	var pairs [][2]any
	err := PullZip(ctx, zip, "lhs", "rhs", func(any) error { return nil },
		func(_ context.Context, l, r any, _ func(any) error) error {
			pairs = append(pairs, [2]any{l, r})
			return nil
		})
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
	assert.Equal(t, [2]any{float64(0), float64(0)}, pairs[0])
}

func TestLocalHashDictExcludesIdentityAndRefs(t *testing.T) {
	req, _ := newTestRequest(t)
	up := newCountAdapter(t, req, 1, nil)
	upID := up.call.NodeID
	call := &countCall{Count: 2, Input: &upID}
	api.Normalize(call)
	a := &countAdapter{call: call}
	a.Base = NewBase(req, call, Inputs{"input": {up}}, nil, nil)

	dict, err := a.LocalHashDict()
	require.NoError(t, err)
	assert.Contains(t, dict, "api_class")
	assert.Contains(t, dict, "count")
	assert.NotContains(t, dict, "node_id")
	assert.NotContains(t, dict, "input")
	assert.NotContains(t, dict, "is_output")
}
