// Package entity provides the data model shared by the parser, the sync
// engine, and the remote gateway: Epics, Sprints, and Tasks with
// hierarchical IDs, git-authoritative content fields, and
// graph-authoritative state fields.
package entity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Kind identifies the entity variant. The kind is never stored in
// markdown; it is derived from the ID's segment count.
type Kind string

const (
	KindEpic   Kind = "epic"
	KindSprint Kind = "sprint"
	KindTask   Kind = "task"
)

// Priority is the planning priority of an entity.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// DefaultPriority is applied when markdown carries no priority bullet.
const DefaultPriority = PriorityMedium

// ParsePriority normalizes a priority string. Unknown values fall back
// to the default rather than failing the entity.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToUpper(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	case PriorityCritical:
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

// Content holds the human-authored free-text fields. These are
// git-authoritative: a pull must never overwrite them, and only these
// fields participate in the content hash.
type Content struct {
	Problem            string `json:"problem,omitempty"`
	Solution           string `json:"solution,omitempty"`
	Approach           string `json:"approach,omitempty"`
	Files              string `json:"files,omitempty"`
	AcceptanceCriteria string `json:"acceptance_criteria,omitempty"`
}

// Fields returns the content fields in canonical order.
func (c Content) Fields() []string {
	return []string{c.Problem, c.Solution, c.Approach, c.Files, c.AcceptanceCriteria}
}

// FieldNames returns the canonical field names, index-aligned with Fields.
func FieldNames() []string {
	return []string{"problem", "solution", "approach", "files", "acceptance_criteria"}
}

// Hash computes the content hash over content fields only. Each field is
// length-prefixed so field boundaries cannot be confused.
func (c Content) Hash() string {
	h := sha256.New()
	var prefix [8]byte
	for _, f := range c.Fields() {
		binary.BigEndian.PutUint64(prefix[:], uint64(len(f)))
		h.Write(prefix[:])
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsEmpty reports whether every content field is empty.
func (c Content) IsEmpty() bool {
	for _, f := range c.Fields() {
		if f != "" {
			return false
		}
	}
	return true
}

// State holds the operational fields. These are graph-authoritative:
// a push must never overwrite them on the remote, and a pull overwrites
// the local cache unconditionally.
type State struct {
	Status        Status `json:"status"`
	Assignee      string `json:"assignee,omitempty"`
	BlockedReason string `json:"blocked_reason,omitempty"`
}

// Entity is a single Epic, Sprint, or Task.
type Entity struct {
	ID    string `json:"id"`
	Kind  Kind   `json:"kind"`
	Title string `json:"title"`

	Content Content `json:"content"`
	State   State   `json:"state"`

	Priority Priority `json:"priority"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ContentHash is the hash over content fields at parse time.
	ContentHash string `json:"content_hash,omitempty"`
	// GraphHash is the remote record hash at the last sync checkpoint.
	GraphHash string `json:"graph_hash,omitempty"`
}

// segmentPattern matches one ID segment: a letter followed by
// letters/digits/hyphens.
var segmentPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// ValidateID checks the hierarchical ID shape: one to three segments
// joined by underscores (e1, e1_s1, e1_s1_t1).
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id is empty")
	}
	segs := strings.Split(id, "_")
	if len(segs) > 3 {
		return fmt.Errorf("id %q has %d segments, max 3", id, len(segs))
	}
	for _, s := range segs {
		if !segmentPattern.MatchString(s) {
			return fmt.Errorf("id %q has invalid segment %q", id, s)
		}
	}
	return nil
}

// KindOf derives the entity kind from the ID's segment count.
func KindOf(id string) (Kind, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	switch strings.Count(id, "_") {
	case 0:
		return KindEpic, nil
	case 1:
		return KindSprint, nil
	default:
		return KindTask, nil
	}
}

// ParentID returns the ID of the containing entity, derived by prefix:
// a Task's parent is its Sprint, a Sprint's parent is its Epic. Epics
// return the empty string. The BELONGS_TO relationship is never stored
// independently of the ID.
func ParentID(id string) string {
	i := strings.LastIndex(id, "_")
	if i < 0 {
		return ""
	}
	return id[:i]
}

// Validate checks structural invariants on the entity.
func (e *Entity) Validate() error {
	if err := ValidateID(e.ID); err != nil {
		return err
	}
	kind, err := KindOf(e.ID)
	if err != nil {
		return err
	}
	if e.Kind != "" && e.Kind != kind {
		return fmt.Errorf("entity %s: kind %q does not match id shape (%s)", e.ID, e.Kind, kind)
	}
	if e.Title == "" {
		return fmt.Errorf("entity %s: title is required", e.ID)
	}
	if len(e.Title) > 500 {
		return fmt.Errorf("entity %s: title must be 500 characters or less (got %d)", e.ID, len(e.Title))
	}
	if e.State.Status != "" {
		if err := ValidateStatus(kind, e.State.Status); err != nil {
			return fmt.Errorf("entity %s: %w", e.ID, err)
		}
	}
	if e.State.Status == StatusBlocked && e.State.BlockedReason == "" {
		return fmt.Errorf("entity %s: blocked status requires a reason", e.ID)
	}
	if e.State.Status != StatusBlocked && e.State.BlockedReason != "" {
		return fmt.Errorf("entity %s: blocked_reason present without blocked status", e.ID)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (e *Entity) SetDefaults() {
	if e.Kind == "" {
		if k, err := KindOf(e.ID); err == nil {
			e.Kind = k
		}
	}
	if e.Priority == "" {
		e.Priority = DefaultPriority
	}
	if e.State.Status == "" {
		e.State.Status = InitialStatus(e.Kind)
	}
	if e.ContentHash == "" {
		e.ContentHash = e.Content.Hash()
	}
}
