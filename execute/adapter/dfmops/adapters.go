package dfmops

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/earth2dfm/dfm/api"
	apidfm "github.com/earth2dfm/dfm/api/dfmops"
	"github.com/earth2dfm/dfm/config"
	"github.com/earth2dfm/dfm/dfmerror"
	"github.com/earth2dfm/dfm/execute/adapter"
	"github.com/earth2dfm/dfm/execute/discovery"
)

// Built-in adapter class names, referenced by provider interface maps.
const (
	AdapterClassConstant         = "adapter.dfm.Constant"
	AdapterClassZip2             = "adapter.dfm.Zip2"
	AdapterClassSignalAllDone    = "adapter.dfm.SignalAllDone"
	AdapterClassSignalClient     = "adapter.dfm.SignalClient"
	AdapterClassPushResponse     = "adapter.dfm.PushResponse"
	AdapterClassSendMessage      = "adapter.dfm.SendMessage"
	AdapterClassReceiveMessage   = "adapter.dfm.ReceiveMessage"
	AdapterClassAwaitMessage     = "adapter.dfm.AwaitMessage"
	AdapterClassExecute          = "adapter.dfm.Execute"
	AdapterClassListTextureFiles = "adapter.dfm.ListTextureFiles"
)

// AwaitMessage re-scheduling knobs.
const (
	awaitBudget       = 500
	defaultAwaitSleep = 2 * time.Second
)

type (
	greetMeAdapter struct {
		adapter.Base
		call *apidfm.GreetMe
		cfg  *config.GreetMeConfig
	}

	constantAdapter struct {
		adapter.Base
		call *apidfm.Constant
	}

	zip2Adapter struct {
		adapter.Base
	}

	signalAllDoneAdapter struct {
		adapter.Base
		call *apidfm.SignalAllDone
	}

	signalClientAdapter struct {
		adapter.Base
	}

	pushResponseAdapter struct {
		adapter.Base
		call *apidfm.PushResponse
	}

	sendMessageAdapter struct {
		adapter.Base
		call *apidfm.SendMessage
	}

	receiveMessageAdapter struct {
		adapter.Base
		call *apidfm.ReceiveMessage
	}

	awaitMessageAdapter struct {
		adapter.Base
		call *apidfm.AwaitMessage
	}

	executeAdapter struct {
		adapter.Base
		call *api.Execute
	}

	listTextureFilesAdapter struct {
		adapter.Base
		call     *apidfm.ListTextureFiles
		provider *FileProvider
	}
)

var (
	_ adapter.Adapter = (*greetMeAdapter)(nil)
	_ adapter.Adapter = (*constantAdapter)(nil)
	_ adapter.Adapter = (*zip2Adapter)(nil)
	_ adapter.Adapter = (*signalAllDoneAdapter)(nil)
	_ adapter.Adapter = (*signalClientAdapter)(nil)
	_ adapter.Adapter = (*pushResponseAdapter)(nil)
	_ adapter.Adapter = (*sendMessageAdapter)(nil)
	_ adapter.Adapter = (*receiveMessageAdapter)(nil)
	_ adapter.Adapter = (*awaitMessageAdapter)(nil)
	_ adapter.Adapter = (*executeAdapter)(nil)
	_ adapter.Adapter = (*listTextureFilesAdapter)(nil)
)

// StreamBody emits one greeting built from the configured prefix and the
// supplied name.
func (a *greetMeAdapter) StreamBody(_ context.Context, emit func(any) error) error {
	return emit(fmt.Sprintf("%s %s", a.cfg.GreetingOrDefault(), a.call.Name))
}

// StreamBody emits the configured value once.
func (a *constantAdapter) StreamBody(_ context.Context, emit func(any) error) error {
	return emit(a.call.Value)
}

// StreamBody pairs the two upstreams in lockstep.
func (a *zip2Adapter) StreamBody(ctx context.Context, emit func(any) error) error {
	return adapter.PullZip(ctx, a, "lhs", "rhs", emit,
		func(_ context.Context, l, r any, emit func(any) error) error {
			return emit([]any{l, r})
		})
}

// StreamBody waits for every referenced node to exhaust, then emits the
// signal message once.
func (a *signalAllDoneAdapter) StreamBody(ctx context.Context, emit func(any) error) error {
	if err := adapter.PullAll(ctx, a, "after"); err != nil {
		return err
	}
	return emit(a.call.SignalMessage())
}

// StreamBody waits for every referenced node to exhaust, then reports
// completion to the client as a Status response.
func (a *signalClientAdapter) StreamBody(ctx context.Context, _ func(any) error) error {
	if err := adapter.PullAll(ctx, a, "after"); err != nil {
		return err
	}
	return a.Request().SendStatus(ctx, "All done")
}

// StreamBody appends the canned response verbatim.
func (a *pushResponseAdapter) StreamBody(ctx context.Context, _ func(any) error) error {
	if a.call.Response == nil {
		return dfmerror.Data("PushResponse requires a response")
	}
	req := a.Request()
	return req.Store().AppendResponse(ctx, req.ID(), a.call.Response)
}

// StreamBody writes each upstream value into the mailbox, last write wins.
func (a *sendMessageAdapter) StreamBody(ctx context.Context, _ func(any) error) error {
	return adapter.PullUnary(ctx, a, "input", nil,
		func(ctx context.Context, v any, _ func(any) error) error {
			raw, err := json.Marshal(v)
			if err != nil {
				return dfmerror.Wrap(dfmerror.Data("mailbox value is not serializable"), err)
			}
			return a.Request().PutMailbox(ctx, a.call.Mailbox, string(raw))
		})
}

// StreamBody reads the mailbox once, emitting its value when present.
func (a *receiveMessageAdapter) StreamBody(ctx context.Context, emit func(any) error) error {
	raw, ok, err := a.Request().GetMailbox(ctx, a.call.Mailbox)
	if err != nil || !ok {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return dfmerror.Wrap(dfmerror.Data("mailbox %q holds malformed content", a.call.Mailbox), err)
	}
	return emit(v)
}

// StreamBody emits the mailbox value when present. Otherwise the node
// re-schedules itself with a deadline until the value arrives or the
// re-schedule budget runs out.
func (a *awaitMessageAdapter) StreamBody(ctx context.Context, emit func(any) error) error {
	req := a.Request()
	raw, ok, err := req.GetMailbox(ctx, a.call.Mailbox)
	if err != nil {
		return err
	}
	if ok {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return dfmerror.Wrap(dfmerror.Data("mailbox %q holds malformed content", a.call.Mailbox), err)
		}
		return emit(v)
	}
	if a.call.WaitCount >= awaitBudget {
		return dfmerror.Server("mailbox %q never received a message, giving up", a.call.Mailbox)
	}
	sleep := defaultAwaitSleep
	if a.call.SleepSeconds > 0 {
		sleep = time.Duration(a.call.SleepSeconds * float64(time.Second))
	}
	retry := *a.call
	retry.WaitCount++
	ex := &api.Execute{}
	if err := ex.Body.Add(&retry); err != nil {
		return err
	}
	api.Normalize(ex)
	return req.ScheduleExecute(ctx, ex, api.At(time.Now().UTC().Add(sleep)))
}

// StreamBody re-publishes the nested block as a fresh job for the same
// request.
func (a *executeAdapter) StreamBody(ctx context.Context, _ func(any) error) error {
	return a.Request().ScheduleExecute(ctx, a.call, nil)
}

// StreamBody lists the files under the requested folder of the provider's
// filesystem, emitting one path per file.
func (a *listTextureFilesAdapter) StreamBody(ctx context.Context, emit func(any) error) error {
	if a.call.Path.Advise {
		return dfmerror.Data("path still carries the advise marker")
	}
	dir := path.Join(a.provider.Root(), a.call.Path.Value)
	entries, err := afero.ReadDir(a.provider.Filesystem(), dir)
	if err != nil {
		return dfmerror.Wrap(dfmerror.Resource("list %s", dir), err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := emit(path.Join(a.call.Path.Value, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Advisors enumerates the folders available under the provider root.
func (a *listTextureFilesAdapter) Advisors() []discovery.FieldAdvisor {
	return []discovery.FieldAdvisor{{
		Field: "path",
		Advise: func(context.Context, *discovery.EdgeContext) (discovery.AdvisedValue, error) {
			entries, err := afero.ReadDir(a.provider.Filesystem(), a.provider.Root())
			if err != nil {
				return nil, dfmerror.Wrap(dfmerror.Resource("list %s", a.provider.Root()), err)
			}
			var folders []any
			for _, entry := range entries {
				if entry.IsDir() {
					folders = append(folders, entry.Name())
				}
			}
			sort.Slice(folders, func(i, j int) bool {
				return folders[i].(string) < folders[j].(string)
			})
			if len(folders) == 0 {
				return discovery.ErrorAdvice{Message: "no texture folders available"}, nil
			}
			return discovery.OneOf{Values: folders}, nil
		},
	}}
}
