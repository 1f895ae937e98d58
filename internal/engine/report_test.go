package engine

import (
	"errors"
	"testing"
)

func TestReportSummary(t *testing.T) {
	tests := []struct {
		name string
		rep  Report
		want string
	}{
		{
			name: "quiet run",
			rep:  Report{Skipped: 4},
			want: "pushed 0, pulled 0, skipped 4, conflicted 0",
		},
		{
			name: "deferred shows only when offline deferrals happened",
			rep:  Report{Pushed: 2, Deferred: 2},
			want: "pushed 2, pulled 0, skipped 0, conflicted 0, deferred 2",
		},
		{
			name: "replay counts ride along",
			rep:  Report{Pushed: 1, Replayed: 2, Dropped: 1},
			want: "pushed 1, pulled 0, skipped 0, conflicted 0, replayed 2, dropped 1",
		},
		{
			name: "failures counted",
			rep:  Report{Errors: []error{errors.New("boom")}},
			want: "pushed 0, pulled 0, skipped 0, conflicted 0, failed 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rep.Summary(); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReportExitCodeConflictWinsOverFailure(t *testing.T) {
	rep := Report{Conflicted: 1, Errors: []error{errors.New("boom")}}
	if got := rep.ExitCode(); got != ExitConflict {
		t.Errorf("ExitCode() = %d, want %d", got, ExitConflict)
	}
}
