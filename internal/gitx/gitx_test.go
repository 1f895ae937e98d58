package gitx

import (
	"context"
	"errors"
	"os/exec"
	"testing"
)

func gitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

func TestHeadOutsideRepo(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not installed")
	}
	r := Open(t.TempDir())
	_, err := r.Head(context.Background())
	if !errors.Is(err, ErrNotInRepo) {
		t.Errorf("Head() error = %v, want ErrNotInRepo", err)
	}
}

func TestHeadInRepo(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	ctx := context.Background()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
		{"commit", "--allow-empty", "-m", "initial"},
	} {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	head, err := Open(dir).Head(ctx)
	if err != nil {
		t.Fatalf("Head() failed: %v", err)
	}
	if len(head) != 40 {
		t.Errorf("Head() = %q, want a full commit hash", head)
	}

	dirty, err := Open(dir).Dirty(ctx)
	if err != nil {
		t.Fatalf("Dirty() failed: %v", err)
	}
	if dirty {
		t.Error("fresh commit reported dirty")
	}
}
