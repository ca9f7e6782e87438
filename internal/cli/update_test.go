package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"qubic-netstats/internal/netstats"
	"qubic-netstats/internal/storage"
)

func TestWriteResultCommitted(t *testing.T) {
	ts := time.Date(2024, 1, 11, 8, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	writeResult(&buf, netstats.Result{
		Outcome: netstats.OutcomeCommitted,
		Sample:  &storage.Sample{Timestamp: ts, PeriodStart: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)},
	})
	out := buf.String()
	if !strings.Contains(out, "outcome: committed") || !strings.Contains(out, "sample: 2024-01-11T08:00:00Z (period 2024-01-10T12:00:00Z)") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestStrictOutcomeErrors(t *testing.T) {
	rejected := netstats.Result{Outcome: netstats.OutcomeRejected, Reason: "abnormal hashrate values"}
	if !errors.Is(rejected.Err(), netstats.ErrValidationFailure) {
		t.Fatalf("rejection should map to ErrValidationFailure, got %v", rejected.Err())
	}
	skipped := netstats.Result{Outcome: netstats.OutcomeSkipped, Reason: "Mining is idle"}
	if !errors.Is(skipped.Err(), netstats.ErrGuardSkip) {
		t.Fatalf("skip should map to ErrGuardSkip, got %v", skipped.Err())
	}
	if (netstats.Result{Outcome: netstats.OutcomeCommitted}).Err() != nil {
		t.Fatal("commit should not be an error")
	}
}

func TestUpdateHasStrictFlag(t *testing.T) {
	flag := updateCmd.Flags().Lookup("strict")
	if flag == nil || flag.DefValue != "false" {
		t.Fatalf("expected --strict flag defaulting to false, got %+v", flag)
	}
}
