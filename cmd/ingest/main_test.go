package main

import (
	"errors"
	"testing"

	"condoscan/internal/ingest"
)

func TestExitCodes(t *testing.T) {
	t.Parallel()

	reconciled := ingest.NewRunContext("test")

	mismatched := ingest.NewRunContext("test")
	mismatched.SourceRowCount = 5
	mismatched.RowsLoaded = 4

	cases := []struct {
		name string
		rc   *ingest.RunContext
		err  error
		want int
	}{
		{"completed", reconciled, nil, 0},
		{"reconciliation mismatch is a hard validation failure", mismatched, nil, 3},
		{"load failure", mismatched, &ingest.LoadError{File: "x.csv", Err: errors.New("no such file")}, 1},
		{"contract violation", reconciled, &ingest.ContractError{Reason: "header mismatch"}, 2},
		{"promotion failure", reconciled, &ingest.PromotionError{Err: errors.New("deadlock")}, 4},
		{"run in progress is retryable, not a validation failure", nil, &ingest.RunInProgressError{Dataset: "test"}, 5},
		{"unclassified failure", reconciled, errors.New("boom"), 5},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCode(tc.rc, tc.err); got != tc.want {
				t.Fatalf("exitCode = %d, want %d", got, tc.want)
			}
		})
	}
}
