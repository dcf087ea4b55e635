package api

import (
	"time"

	"github.com/google/uuid"
)

type (
	// Job is the unit of work carried over the execute and scheduler
	// channels: a subgraph plus the identity of the request it belongs to.
	Job struct {
		HomeSite    string    `json:"home_site"`
		RequestID   uuid.UUID `json:"request_id"`
		Deadline    *Deadline `json:"deadline,omitempty"`
		IsDiscovery bool      `json:"is_discovery"`
		Execute     *Execute  `json:"execute"`
	}

	// Package wraps a Job for cross-site relay over the uplink channel.
	Package struct {
		Timestamp  time.Time `json:"timestamp"`
		SourceSite string    `json:"source_site"`
		TargetSite string    `json:"target_site"`
		Job        Job       `json:"job"`
	}

	// RequestState is the per-request document persisted in the keyed store
	// under request:<id>. Responses are append-only.
	RequestState struct {
		RequestID uuid.UUID   `json:"request_id"`
		Body      *Process    `json:"body"`
		Responses []*Response `json:"responses"`
	}
)

// NewPackage wraps a job for relay, stamping the current time.
func NewPackage(sourceSite, targetSite string, job Job) *Package {
	return &Package{
		Timestamp:  time.Now().UTC(),
		SourceSite: sourceSite,
		TargetSite: targetSite,
		Job:        job,
	}
}
