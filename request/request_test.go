package request

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/bus"
	businmem "github.com/earth2dfm/dfm/bus/inmem"
	"github.com/earth2dfm/dfm/dfmerror"
	"github.com/earth2dfm/dfm/store"
	storemem "github.com/earth2dfm/dfm/store/inmem"
)

func newRequest(t *testing.T) (*Request, *storemem.Store, *businmem.Bus) {
	t.Helper()
	st := storemem.New()
	b := businmem.New()
	id := uuid.New()
	require.NoError(t, st.CreateRequest(context.Background(), &api.RequestState{RequestID: id}))
	r, err := New(Options{
		RequestID: id,
		HomeSite:  "earth2",
		ThisSite:  "earth2",
		Store:     st,
		Bus:       b,
	})
	require.NoError(t, err)
	return r, st, b
}

func TestNewRequiresIdentityAndBackends(t *testing.T) {
	_, err := New(Options{Store: storemem.New(), Bus: businmem.New()})
	require.Error(t, err)
	_, err = New(Options{RequestID: uuid.New(), Bus: businmem.New()})
	require.Error(t, err)
	_, err = New(Options{RequestID: uuid.New(), Store: storemem.New()})
	require.Error(t, err)
}

func TestSendVariants(t *testing.T) {
	r, st, _ := newRequest(t)
	ctx := context.Background()
	nodeID := uuid.New()

	require.NoError(t, r.SendValue(ctx, &nodeID, "v"))
	require.NoError(t, r.SendStatus(ctx, "working"))
	require.NoError(t, r.SendHeartbeat(ctx))
	require.NoError(t, r.SendError(ctx, nil, dfmerror.Data("bad input")))

	responses, err := st.Responses(ctx, r.ID(), 0, 0)
	require.NoError(t, err)
	require.Len(t, responses, 4)
	assert.Equal(t, "v", responses[0].Body.(api.ValueResponse).Value)
	status := responses[1].Body.(api.StatusResponse)
	assert.Equal(t, "earth2", status.Site)
	assert.Equal(t, "working", status.Message)
	assert.Equal(t, "earth2", responses[2].Body.(api.HeartbeatResponse).Site)
	assert.Equal(t, 400, responses[3].Body.(api.ErrorResponse).HTTPStatusCode)
}

func TestScheduleExecuteRouting(t *testing.T) {
	r, _, b := newRequest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	execSub, err := b.Subscribe(ctx, bus.ExecuteChannel)
	require.NoError(t, err)
	defer execSub.Close(context.Background())
	schedSub, err := b.Subscribe(ctx, bus.SchedulerChannel)
	require.NoError(t, err)
	defer schedSub.Close(context.Background())

	ex := &api.Execute{}
	api.Normalize(ex)
	require.NoError(t, r.ScheduleExecute(ctx, ex, nil))
	select {
	case d := <-execSub.C():
		var job api.Job
		require.NoError(t, json.Unmarshal(d.Payload, &job))
		require.NoError(t, d.Ack(ctx))
		assert.Equal(t, r.ID(), job.RequestID)
		assert.Nil(t, job.Deadline)
	case <-ctx.Done():
		t.Fatal("deadline-less job must go to the execute channel")
	}

	require.NoError(t, r.ScheduleExecute(ctx, ex, api.At(time.Now().UTC().Add(time.Minute))))
	select {
	case d := <-schedSub.C():
		var job api.Job
		require.NoError(t, json.Unmarshal(d.Payload, &job))
		require.NoError(t, d.Ack(ctx))
		require.NotNil(t, job.Deadline)
	case <-ctx.Done():
		t.Fatal("deadline job must go to the scheduler channel")
	}
}

func TestMailboxRoundTrip(t *testing.T) {
	r, _, _ := newRequest(t)
	ctx := context.Background()

	_, ok, err := r.GetMailbox(ctx, "box")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.PutMailbox(ctx, "box", `"ping"`))
	v, ok, err := r.GetMailbox(ctx, "box")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"ping"`, v)
}

func TestResolveThisSite(t *testing.T) {
	st := storemem.New()
	ctx := context.Background()
	assert.Equal(t, "fallback", ResolveThisSite(ctx, st, "fallback"))
	require.NoError(t, st.Put(ctx, store.ThisSiteKey, "earth2"))
	assert.Equal(t, "earth2", ResolveThisSite(ctx, st, "fallback"))
}
