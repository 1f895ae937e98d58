// Package gitx wraps the few git commands tether needs: detecting the
// repository and reading HEAD so push runs can be tied back to a
// commit. Git being absent, or the directory not being a repository,
// is normal and surfaces as ErrNotInRepo rather than a failure.
package gitx

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotInRepo is returned when the working directory is not inside a
// git repository or git is not installed.
var ErrNotInRepo = errors.New("not in a git repository")

// Repo runs git commands rooted at dir.
type Repo struct {
	dir string
}

// Open returns a Repo for dir. It does not verify the repository;
// callers get ErrNotInRepo from the first operation instead.
func Open(dir string) *Repo {
	return &Repo{dir: dir}
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	output, err := cmd.Output()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", ErrNotInRepo
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(string(exitErr.Stderr))
			if strings.Contains(msg, "not a git repository") {
				return "", ErrNotInRepo
			}
			return "", fmt.Errorf("git %s: %s", args[0], msg)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(output)), nil
}

// Head returns the current commit hash.
func (r *Repo) Head(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "HEAD")
}

// Root returns the repository root directory.
func (r *Repo) Root(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--show-toplevel")
}

// Dirty reports whether the working tree has uncommitted changes.
func (r *Repo) Dirty(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}
