package machine

import (
	"context"
	"fmt"

	"github.com/tetherdev/tether/internal/entity"
)

// ChildSummary is the minimal view of a child entity needed for cascade
// decisions.
type ChildSummary struct {
	ID     string
	Status entity.Status
}

// ChildLister queries the children of a parent entity. The remote
// gateway satisfies this; tests use a fake.
type ChildLister interface {
	CascadeChildren(ctx context.Context, parentID string) ([]ChildSummary, error)
}

// Proposal is a suggested parent completion produced by a cascade pass.
// Proposals are suggestions only; the caller decides whether to apply
// them (interactively or via --yes).
type Proposal struct {
	ID   string
	Kind entity.Kind
	To   entity.Status
}

// Cascade computes parent-completion proposals after an entity reached
// complete. It is opt-in (never triggered by a bare status change): if
// all siblings under the parent are complete, the parent's completion
// is proposed, and the rule recurses Sprint -> Epic.
//
// Tombstoned siblings do not hold a parent open.
func Cascade(ctx context.Context, lister ChildLister, completedID string) ([]Proposal, error) {
	var proposals []Proposal

	id := completedID
	for {
		parent := entity.ParentID(id)
		if parent == "" {
			return proposals, nil
		}
		kind, err := entity.KindOf(parent)
		if err != nil {
			return proposals, err
		}

		children, err := lister.CascadeChildren(ctx, parent)
		if err != nil {
			return proposals, fmt.Errorf("failed to query children of %s: %w", parent, err)
		}
		for _, c := range children {
			if c.ID == completedID || c.Status.IsTerminal() {
				continue
			}
			// An incomplete sibling stops the cascade here.
			return proposals, nil
		}

		proposals = append(proposals, Proposal{ID: parent, Kind: kind, To: entity.StatusComplete})
		id = parent
		completedID = parent
	}
}
