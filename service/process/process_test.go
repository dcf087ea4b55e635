package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/api/dfmops"
	"github.com/earth2dfm/dfm/bus"
	businmem "github.com/earth2dfm/dfm/bus/inmem"
	"github.com/earth2dfm/dfm/config"
	"github.com/earth2dfm/dfm/store"
	storemem "github.com/earth2dfm/dfm/store/inmem"
)

func newService(t *testing.T, opts Options) (*Service, *storemem.Store, *businmem.Bus) {
	t.Helper()
	st := storemem.New()
	b := businmem.New()
	if opts.Site == "" {
		opts.Site = "earth2"
	}
	opts.Store = st
	opts.Bus = b
	opts.Version = "1.2.3"
	opts.Name = "dfm"
	svc, err := New(opts)
	require.NoError(t, err)
	return svc, st, b
}

func greetProcessJSON(t *testing.T, deadline string) []byte {
	t.Helper()
	greet := &dfmops.GreetMe{Name: "Alice"}
	greet.IsOutput = true
	ex := &api.Execute{}
	require.NoError(t, ex.Body.Add(greet))
	p := api.NewProcess(ex, "", nil)
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	if deadline != "" {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(raw, &doc))
		doc["deadline"] = deadline
		raw, err = json.Marshal(doc)
		require.NoError(t, err)
	}
	return raw
}

func TestStatusAndVersion(t *testing.T) {
	svc, _, _ := newService(t, Options{})
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var status map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "OK", status["status"])

	resp2, err := http.Get(srv.URL + "/version")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var version map[string]string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&version))
	assert.Equal(t, "1.2.3", version["version"])
	assert.Equal(t, "dfm", version["name"])
}

func TestSubmitProcessPublishesJob(t *testing.T) {
	svc, st, b := newService(t, Options{})
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub, err := b.Subscribe(ctx, bus.ExecuteChannel)
	require.NoError(t, err)
	defer sub.Close(context.Background())

	resp, err := http.Post(srv.URL+"/process", "application/json", bytes.NewReader(greetProcessJSON(t, "")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	id, err := uuid.Parse(out["request_id"])
	require.NoError(t, err)

	// The request document exists with an empty response array.
	responses, err := st.Responses(ctx, id, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, responses)

	select {
	case d := <-sub.C():
		var job api.Job
		require.NoError(t, json.Unmarshal(d.Payload, &job))
		require.NoError(t, d.Ack(context.Background()))
		assert.Equal(t, id, job.RequestID)
		assert.Equal(t, "earth2", job.HomeSite)
		assert.False(t, job.IsDiscovery)
		assert.Equal(t, 1, job.Execute.Body.Len())
	case <-ctx.Done():
		t.Fatal("job never reached the execute channel")
	}
}

func TestSubmitWithDeadlineRoutesToScheduler(t *testing.T) {
	svc, _, b := newService(t, Options{})
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub, err := b.Subscribe(ctx, bus.SchedulerChannel)
	require.NoError(t, err)
	defer sub.Close(context.Background())

	deadline := time.Now().UTC().Add(time.Hour).Format(time.RFC3339Nano)
	resp, err := http.Post(srv.URL+"/process", "application/json", bytes.NewReader(greetProcessJSON(t, deadline)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case d := <-sub.C():
		var job api.Job
		require.NoError(t, json.Unmarshal(d.Payload, &job))
		require.NoError(t, d.Ack(context.Background()))
		require.NotNil(t, job.Deadline)
	case <-ctx.Done():
		t.Fatal("job never reached the scheduler channel")
	}
}

func TestSubmitZonelessDeadlineRejected(t *testing.T) {
	svc, _, _ := newService(t, Options{})
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/process", "application/json",
		bytes.NewReader(greetProcessJSON(t, "2026-08-25T12:00:00")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out["message"], "time zone")
}

func TestSubmitAdviseMarkerRejectedOutsideDiscovery(t *testing.T) {
	svc, _, _ := newService(t, Options{})
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	list := &dfmops.ListTextureFiles{Path: api.Advise[string]()}
	ex := &api.Execute{}
	require.NoError(t, ex.Body.Add(list))
	raw, err := json.Marshal(api.NewProcess(ex, "", nil))
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/process", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// The same document is accepted in discovery mode.
	resp2, err := http.Post(srv.URL+"/process?mode=discovery", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestResponsesEndpoint(t *testing.T) {
	svc, st, _ := newService(t, Options{})
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, st.CreateRequest(ctx, &api.RequestState{RequestID: id}))

	// Known request, no responses yet.
	resp, err := http.Get(fmt.Sprintf("%s/request/responses/%s", srv.URL, id))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	for i := 0; i < 3; i++ {
		require.NoError(t, st.AppendResponse(ctx, id, api.NewResponse(nil, api.ValueResponse{Value: float64(i)})))
	}
	resp2, err := http.Get(fmt.Sprintf("%s/request/responses/%s?index=1&size=1", srv.URL, id))
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var window []*api.Response
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&window))
	require.Len(t, window, 1)
	assert.Equal(t, float64(1), window[0].Body.(api.ValueResponse).Value)

	// Unknown request.
	resp3, err := http.Get(fmt.Sprintf("%s/request/responses/%s", srv.URL, uuid.New()))
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)

	// A malformed identifier names no request.
	resp4, err := http.Get(srv.URL + "/request/responses/not-a-uuid")
	require.NoError(t, err)
	resp4.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp4.StatusCode)
}

func TestSubmitPastDeadlineGoesStraightToExecute(t *testing.T) {
	svc, _, b := newService(t, Options{})
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	execSub, err := b.Subscribe(ctx, bus.ExecuteChannel)
	require.NoError(t, err)
	defer execSub.Close(context.Background())
	schedSub, err := b.Subscribe(ctx, bus.SchedulerChannel)
	require.NoError(t, err)
	defer schedSub.Close(context.Background())

	deadline := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano)
	resp, err := http.Post(srv.URL+"/process", "application/json", bytes.NewReader(greetProcessJSON(t, deadline)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case d := <-execSub.C():
		var job api.Job
		require.NoError(t, json.Unmarshal(d.Payload, &job))
		require.NoError(t, d.Ack(context.Background()))
		require.NotNil(t, job.Deadline)
	case <-schedSub.C():
		t.Fatal("an already due job must not detour through the scheduler")
	case <-ctx.Done():
		t.Fatal("job never reached the execute channel")
	}
}

func TestResponsesReadFailureCarriesCause(t *testing.T) {
	st := storemem.New()
	svc, err := New(Options{
		Site:  "earth2",
		Store: &failingStore{Store: st},
		Bus:   businmem.New(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Get(fmt.Sprintf("%s/request/responses/%s", srv.URL, uuid.New()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out["message"], "backend unavailable")
}

// failingStore fails every response read.
type failingStore struct {
	store.Store
}

func (s *failingStore) Responses(context.Context, uuid.UUID, int, int) ([]*api.Response, error) {
	return nil, errors.New("backend unavailable")
}

func TestAPIKeyAuth(t *testing.T) {
	key := strings.Repeat("k", 32)
	svc, _, _ := newService(t, Options{AuthMethod: config.AuthAPIKey, AuthAPIKey: key})
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	// Probes stay open.
	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Missing key.
	resp2, err := http.Post(srv.URL+"/process", "application/json", bytes.NewReader(greetProcessJSON(t, "")))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp2.StatusCode)

	// Correct key.
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/process", bytes.NewReader(greetProcessJSON(t, "")))
	require.NoError(t, err)
	req.Header.Set(config.AuthHeader, key)
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
}

func TestShortAPIKeyRejectedAtConstruction(t *testing.T) {
	_, err := New(Options{
		Site:       "earth2",
		Store:      storemem.New(),
		Bus:        businmem.New(),
		AuthMethod: config.AuthAPIKey,
		AuthAPIKey: "short",
	})
	require.Error(t, err)
}
