// Package graph talks to the remote graph store over its minimal HTTP
// surface: fetch one entity, merge-upsert one entity, list children.
//
// The store is the authority for state fields (status, assignee,
// blocked_reason); git is the authority for content fields. The
// gateway itself is agnostic: callers choose which half of an upsert
// to send.
//
// All calls carry a bounded timeout. Transport failures surface as
// NetworkError after bounded retries; a 401/403 triggers exactly one
// token refresh before becoming a fatal AuthError.
package graph

import (
	"context"
	"time"

	"github.com/tetherdev/tether/internal/entity"
)

// Record is one entity as the remote graph stores it.
type Record struct {
	ID    string      `json:"id"`
	Kind  entity.Kind `json:"kind"`
	Title string      `json:"title"`

	Content entity.Content `json:"content"`
	State   entity.State   `json:"state"`

	ContentHash string    `json:"content_hash"`
	GraphHash   string    `json:"graph_hash"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Summary is the child listing shape: enough to render status and
// drive cascade checks without fetching every full record.
type Summary struct {
	ID        string        `json:"id"`
	Kind      entity.Kind   `json:"kind"`
	Title     string        `json:"title"`
	Status    entity.Status `json:"status"`
	GraphHash string        `json:"graph_hash"`
}

// Upsert carries the halves of an entity to merge into the remote
// record. A nil half is left untouched on the remote; content-only
// pushes and state-only mutations are both expressed this way.
type Upsert struct {
	Title   string          `json:"title,omitempty"`
	Kind    entity.Kind     `json:"kind,omitempty"`
	Content *entity.Content `json:"content,omitempty"`
	State   *entity.State   `json:"state,omitempty"`
}

// UpsertResult is what the remote reports after a successful merge.
type UpsertResult struct {
	GraphHash string    `json:"graph_hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Gateway is the remote surface the sync engine depends on. The
// production implementation is Client; tests substitute fakes.
type Gateway interface {
	// Get fetches one entity by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Put merges the given halves into the remote record keyed by
	// (graph, id). Repeated calls with the same id must update the
	// same node; a DuplicateError means the remote broke that
	// contract.
	Put(ctx context.Context, id string, up Upsert) (*UpsertResult, error)

	// Children lists the direct children of id. A missing parent is
	// ErrNotFound; a parent with no children is an empty slice.
	Children(ctx context.Context, id string) ([]Summary, error)
}
