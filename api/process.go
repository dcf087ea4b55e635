package api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/earth2dfm/dfm/dfmerror"
)

// ClassProcess is the discriminator of the top-level Process document.
const ClassProcess = "dfm.api.Process"

type (
	// Deadline is a timestamp that must carry an explicit time zone on the
	// wire. Zone-less timestamps are rejected at decode time.
	Deadline struct {
		time.Time
	}

	// Process is the client-submitted pipeline document: a top-level Execute
	// block, an optional target site, and an optional deadline.
	Process struct {
		APIClass string    `json:"api_class"`
		Site     string    `json:"site,omitempty"`
		Deadline *Deadline `json:"deadline,omitempty"`
		Execute  *Execute  `json:"execute"`
	}
)

// naiveLayouts are timestamp layouts without zone information, recognized
// only to produce a precise rejection.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// At wraps a concrete time as a deadline.
func At(t time.Time) *Deadline { return &Deadline{Time: t} }

// MarshalJSON writes the deadline as RFC 3339 with zone.
func (d Deadline) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(time.RFC3339Nano))
}

// UnmarshalJSON parses an RFC 3339 timestamp, rejecting zone-less forms.
func (d *Deadline) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return dfmerror.Wrap(dfmerror.Data("deadline must be a string"), err)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		d.Time = t
		return nil
	}
	for _, layout := range naiveLayouts {
		if _, naiveErr := time.Parse(layout, s); naiveErr == nil {
			return dfmerror.Data("deadline %q requires an explicit time zone", s)
		}
	}
	return dfmerror.Wrap(dfmerror.Data("invalid deadline %q", s), err)
}

// NewProcess wraps a built Execute block into a Process document.
func NewProcess(execute *Execute, site string, deadline *Deadline) *Process {
	Normalize(execute)
	return &Process{
		APIClass: ClassProcess,
		Site:     site,
		Deadline: deadline,
		Execute:  execute,
	}
}

// Build pushes the embedded Execute block onto the builder and returns the
// function that pops it, mirroring scoped construction:
//
//	done := p.Build(b)
//	b.MustAddNode(...)
//	done()
func (p *Process) Build(b *Builder) func() {
	b.Push(p.Execute)
	return func() {
		if err := b.Pop(p.Execute); err != nil {
			panic(err)
		}
	}
}

// DecodeProcess parses a Process document. In execute mode any field still
// carrying the "advise me" marker is rejected; discovery mode permits them.
func DecodeProcess(raw []byte, allowAdvise bool) (*Process, error) {
	var p Process
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, asDataError(err)
	}
	if err := p.Validate(allowAdvise); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks structural invariants. With allowAdvise false, any call
// field carrying the advise marker fails validation.
func (p *Process) Validate(allowAdvise bool) error {
	if p.APIClass != ClassProcess {
		return dfmerror.Data("process api_class must be %q, got %q", ClassProcess, p.APIClass)
	}
	if p.Execute == nil {
		return dfmerror.Data("process requires an execute block")
	}
	if allowAdvise {
		return nil
	}
	return p.Walk(func(c Call) error {
		if adv, ok := c.(Adviseable); ok {
			if fields := adv.AdvisedFields(); len(fields) > 0 {
				return dfmerror.Data("node %s field %q requires a value outside discovery mode",
					c.Meta().NodeID, fields[0])
			}
		}
		return nil
	})
}

// Walk visits every call in the process, descending into nested Execute
// blocks, in insertion order.
func (p *Process) Walk(fn func(Call) error) error {
	return walkBlock(p.Execute, fn)
}

func walkBlock(e *Execute, fn func(Call) error) error {
	for _, id := range e.Body.IDs() {
		c, _ := e.Body.Get(id)
		if err := fn(c); err != nil {
			return err
		}
		if nested, ok := c.(*Execute); ok {
			if err := walkBlock(nested, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// asDataError keeps classified errors and wraps everything else as invalid
// client data.
func asDataError(err error) error {
	var de *dfmerror.Error
	if errors.As(err, &de) {
		return err
	}
	return dfmerror.Wrap(dfmerror.Data("decode process"), err)
}
