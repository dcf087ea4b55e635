// Package store defines the keyed state store shared by the DFM services:
// per-request JSON documents with append-only response arrays, plus plain
// keys for mailboxes and the site-advertising key.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/earth2dfm/dfm/api"
)

// ErrNotFound reports an unknown request identifier or key.
var ErrNotFound = errors.New("not found")

// ThisSiteKey is published by the uplink collaborator and names the site the
// local deployment serves. Configuration supplies a fallback until the first
// publication.
const ThisSiteKey = "this_site"

// Store is the keyed state store contract. Appends are atomic; readers of a
// request's responses observe a consistent, monotonically growing prefix.
type Store interface {
	// CreateRequest persists a fresh request document.
	CreateRequest(ctx context.Context, state *api.RequestState) error
	// AppendResponse appends one response to the request's response array.
	// Returns ErrNotFound for unknown request identifiers.
	AppendResponse(ctx context.Context, id uuid.UUID, r *api.Response) error
	// Responses returns the slice [index, index+size) of the request's
	// responses; size 0 means everything from index onward. Returns
	// ErrNotFound for unknown request identifiers.
	Responses(ctx context.Context, id uuid.UUID, index, size int) ([]*api.Response, error)
	// Put stores a plain string value under key.
	Put(ctx context.Context, key, value string) error
	// Get reads a plain string value. The boolean reports existence.
	Get(ctx context.Context, key string) (string, bool, error)
}

// RequestKey returns the document key for a request identifier.
func RequestKey(id uuid.UUID) string {
	return fmt.Sprintf("request:%s", id)
}

// MailboxKey returns the key of a request-scoped mailbox.
func MailboxKey(requestID uuid.UUID, mailbox string) string {
	return fmt.Sprintf("%s.%s", requestID, mailbox)
}

// SliceResponses applies the index/size window to a response list.
func SliceResponses(all []*api.Response, index, size int) []*api.Response {
	if index < 0 {
		index = 0
	}
	if index >= len(all) {
		return nil
	}
	end := len(all)
	if size > 0 && index+size < end {
		end = index + size
	}
	return all[index:end]
}
