// Package dfmops defines the built-in FunctionCall variants shipped with the
// platform: small utility operators for greeting, constants, pairing,
// signaling, inter-pipeline messaging, nested scheduling, and the texture
// file listing used to demonstrate discovery.
package dfmops

import (
	"github.com/google/uuid"

	"github.com/earth2dfm/dfm/api"
)

// Built-in call discriminators.
const (
	ClassGreetMe          = "dfm.api.dfm.GreetMe"
	ClassConstant         = "dfm.api.dfm.Constant"
	ClassZip2             = "dfm.api.dfm.Zip2"
	ClassSignalAllDone    = "dfm.api.dfm.SignalAllDone"
	ClassSignalClient     = "dfm.api.dfm.SignalClient"
	ClassPushResponse     = "dfm.api.dfm.PushResponse"
	ClassSendMessage      = "dfm.api.dfm.SendMessage"
	ClassReceiveMessage   = "dfm.api.dfm.ReceiveMessage"
	ClassAwaitMessage     = "dfm.api.dfm.AwaitMessage"
	ClassListTextureFiles = "dfm.api.dfm.ListTextureFiles"
)

// DefaultSignalMessage is the message SignalAllDone carries when none is set.
const DefaultSignalMessage = "Sig"

func init() {
	api.Register(ClassGreetMe, func() api.Call { return &GreetMe{} })
	api.Register(ClassConstant, func() api.Call { return &Constant{} })
	api.Register(ClassZip2, func() api.Call { return &Zip2{} })
	api.Register(ClassSignalAllDone, func() api.Call { return &SignalAllDone{} })
	api.Register(ClassSignalClient, func() api.Call { return &SignalClient{} })
	api.Register(ClassPushResponse, func() api.Call { return &PushResponse{} })
	api.Register(ClassSendMessage, func() api.Call { return &SendMessage{} })
	api.Register(ClassReceiveMessage, func() api.Call { return &ReceiveMessage{} })
	api.Register(ClassAwaitMessage, func() api.Call { return &AwaitMessage{} })
	api.Register(ClassListTextureFiles, func() api.Call { return &ListTextureFiles{} })
}

type (
	// GreetMe produces a single greeting string built from the provider's
	// configured greeting and the supplied name.
	GreetMe struct {
		api.NodeMeta
		Name string `json:"name"`
	}

	// Constant produces its configured value exactly once.
	Constant struct {
		api.NodeMeta
		Value any `json:"value"`
	}

	// Zip2 pairs values from two upstreams in lockstep.
	Zip2 struct {
		api.NodeMeta
		LHS uuid.UUID `json:"lhs"`
		RHS uuid.UUID `json:"rhs"`
	}

	// SignalAllDone waits for all referenced nodes to exhaust and then emits
	// one message. It defaults to being an output: clients use it as the
	// stop node terminating their response iteration.
	SignalAllDone struct {
		api.NodeMeta
		After   []uuid.UUID `json:"after"`
		Message string      `json:"message,omitempty"`
	}

	// SignalClient waits for all referenced nodes to exhaust and then emits
	// a status message to the client.
	SignalClient struct {
		api.NodeMeta
		After []uuid.UUID `json:"after"`
	}

	// PushResponse emits a canned response verbatim.
	PushResponse struct {
		api.NodeMeta
		Response *api.Response `json:"response"`
	}

	// SendMessage writes each upstream value into a request-scoped mailbox.
	SendMessage struct {
		api.NodeMeta
		Mailbox string    `json:"mailbox"`
		Input   uuid.UUID `json:"input"`
	}

	// ReceiveMessage reads the mailbox once and emits its value, or nothing
	// when the mailbox is empty.
	ReceiveMessage struct {
		api.NodeMeta
		Mailbox string `json:"mailbox"`
	}

	// AwaitMessage reads the mailbox, re-scheduling itself through the
	// execute channel until a value appears or the wait budget runs out.
	AwaitMessage struct {
		api.NodeMeta
		Mailbox string `json:"mailbox"`
		// WaitCount is the remaining re-schedule budget. Zero means the
		// default budget.
		WaitCount int `json:"wait_count,omitempty"`
		// SleepSeconds is the delay between attempts.
		SleepSeconds float64 `json:"sleep_seconds,omitempty"`
	}

	// ListTextureFiles lists the files under a path of the provider's
	// filesystem. The path is advisable: discovery enumerates the folders
	// available to the provider.
	ListTextureFiles struct {
		api.NodeMeta
		Path api.Advisable[string] `json:"path"`
	}
)

func (c *GreetMe) Class() string          { return ClassGreetMe }
func (c *Constant) Class() string         { return ClassConstant }
func (c *Zip2) Class() string             { return ClassZip2 }
func (c *SignalAllDone) Class() string    { return ClassSignalAllDone }
func (c *SignalClient) Class() string     { return ClassSignalClient }
func (c *PushResponse) Class() string     { return ClassPushResponse }
func (c *SendMessage) Class() string      { return ClassSendMessage }
func (c *ReceiveMessage) Class() string   { return ClassReceiveMessage }
func (c *AwaitMessage) Class() string     { return ClassAwaitMessage }
func (c *ListTextureFiles) Class() string { return ClassListTextureFiles }

func (c *GreetMe) InputRefs() []api.InputRef  { return nil }
func (c *Constant) InputRefs() []api.InputRef { return nil }

func (c *Zip2) InputRefs() []api.InputRef {
	return []api.InputRef{
		{Name: "lhs", IDs: []uuid.UUID{c.LHS}},
		{Name: "rhs", IDs: []uuid.UUID{c.RHS}},
	}
}

func (c *SignalAllDone) InputRefs() []api.InputRef {
	return []api.InputRef{{Name: "after", IDs: c.After, List: true}}
}

func (c *SignalClient) InputRefs() []api.InputRef {
	return []api.InputRef{{Name: "after", IDs: c.After, List: true}}
}

func (c *PushResponse) InputRefs() []api.InputRef { return nil }

func (c *SendMessage) InputRefs() []api.InputRef {
	return []api.InputRef{{Name: "input", IDs: []uuid.UUID{c.Input}}}
}

func (c *ReceiveMessage) InputRefs() []api.InputRef   { return nil }
func (c *AwaitMessage) InputRefs() []api.InputRef     { return nil }
func (c *ListTextureFiles) InputRefs() []api.InputRef { return nil }

// SignalMessage returns the configured message or the default.
func (c *SignalAllDone) SignalMessage() string {
	if c.Message == "" {
		return DefaultSignalMessage
	}
	return c.Message
}

// NewSignalAllDone builds the conventional stop node: an output signal that
// fires after the given nodes complete.
func NewSignalAllDone(after []uuid.UUID, message string) *SignalAllDone {
	c := &SignalAllDone{After: after, Message: message}
	c.IsOutput = true
	return c
}

// AdvisedFields reports whether the path still carries the advise marker.
func (c *ListTextureFiles) AdvisedFields() []string {
	if c.Path.Advise {
		return []string{"path"}
	}
	return nil
}

// Field exposes supplied field values to the discovery engine.
func (c *ListTextureFiles) Field(name string) (any, bool) {
	if name == "path" && !c.Path.Advise {
		return c.Path.Value, true
	}
	return nil, false
}
