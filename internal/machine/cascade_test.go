package machine

import (
	"context"
	"testing"

	"github.com/tetherdev/tether/internal/entity"
)

// fakeLister serves children out of a map keyed by parent id.
type fakeLister struct {
	children map[string][]ChildSummary
}

func (f *fakeLister) CascadeChildren(_ context.Context, parentID string) ([]ChildSummary, error) {
	return f.children[parentID], nil
}

func TestCascadeLastSiblingCompletesSprintAndEpic(t *testing.T) {
	// e1_s1_t1 just completed and was the last incomplete of 4 siblings;
	// e1_s1 is the only sprint of e1.
	lister := &fakeLister{children: map[string][]ChildSummary{
		"e1_s1": {
			{ID: "e1_s1_t1", Status: entity.StatusNotStarted}, // remote not yet aware
			{ID: "e1_s1_t2", Status: entity.StatusComplete},
			{ID: "e1_s1_t3", Status: entity.StatusComplete},
			{ID: "e1_s1_t4", Status: entity.StatusComplete},
		},
		"e1": {
			{ID: "e1_s1", Status: entity.StatusActive},
		},
	}}

	proposals, err := Cascade(context.Background(), lister, "e1_s1_t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(proposals) != 2 {
		t.Fatalf("got %d proposals, want 2: %+v", len(proposals), proposals)
	}
	if proposals[0].ID != "e1_s1" || proposals[0].Kind != entity.KindSprint || proposals[0].To != entity.StatusComplete {
		t.Errorf("first proposal = %+v", proposals[0])
	}
	if proposals[1].ID != "e1" || proposals[1].Kind != entity.KindEpic {
		t.Errorf("second proposal = %+v", proposals[1])
	}
}

func TestCascadeStopsAtIncompleteSibling(t *testing.T) {
	lister := &fakeLister{children: map[string][]ChildSummary{
		"e1_s1": {
			{ID: "e1_s1_t1", Status: entity.StatusComplete},
			{ID: "e1_s1_t2", Status: entity.StatusInProgress},
		},
	}}

	proposals, err := Cascade(context.Background(), lister, "e1_s1_t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(proposals) != 0 {
		t.Errorf("got proposals %+v, want none", proposals)
	}
}

func TestCascadeStopsAtEpicWithOpenSprint(t *testing.T) {
	lister := &fakeLister{children: map[string][]ChildSummary{
		"e1_s1": {
			{ID: "e1_s1_t1", Status: entity.StatusComplete},
		},
		"e1": {
			{ID: "e1_s1", Status: entity.StatusActive},
			{ID: "e1_s2", Status: entity.StatusPlanned},
		},
	}}

	proposals, err := Cascade(context.Background(), lister, "e1_s1_t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(proposals) != 1 || proposals[0].ID != "e1_s1" {
		t.Fatalf("proposals = %+v, want only the sprint", proposals)
	}
}

func TestCascadeIgnoresTombstonedSiblings(t *testing.T) {
	lister := &fakeLister{children: map[string][]ChildSummary{
		"e1_s1": {
			{ID: "e1_s1_t1", Status: entity.StatusComplete},
			{ID: "e1_s1_t2", Status: entity.StatusTombstone},
		},
		"e1": {
			{ID: "e1_s1", Status: entity.StatusActive},
		},
	}}

	proposals, err := Cascade(context.Background(), lister, "e1_s1_t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(proposals) != 2 {
		t.Errorf("tombstones must not hold parents open: %+v", proposals)
	}
}

func TestCascadeFromEpicIsNoop(t *testing.T) {
	proposals, err := Cascade(context.Background(), &fakeLister{}, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(proposals) != 0 {
		t.Errorf("epics have no parent to cascade to: %+v", proposals)
	}
}
