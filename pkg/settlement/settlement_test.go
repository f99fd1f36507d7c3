package settlement

import (
	"errors"
	"testing"
)

func lockedSettlement() Settlement {
	return Settlement{
		SettlementID: "stl_001",
		RunID:        "run_001",
		AgentID:      "agent_payee",
		PayerAgentID: "agent_payer",
		AmountCents:  10000,
		Currency:     "USD",
		Status:       StatusLocked,
		Revision:     3,
	}
}

func decisionFor(s Settlement, status string, released, refunded int64) DecisionRecord {
	return DecisionRecord{
		DecisionID:          "sdec_001",
		RunID:               s.RunID,
		SettlementID:        s.SettlementID,
		Status:              status,
		ReleasedAmountCents: released,
		RefundedAmountCents: refunded,
		DecidedAt:           "2026-03-01T10:00:00Z",
	}
}

func receiptFor(t *testing.T, s Settlement, d DecisionRecord) Receipt {
	t.Helper()
	h, err := HashDecision(d)
	if err != nil {
		t.Fatalf("hash decision: %v", err)
	}
	return Receipt{
		ReceiptID:    "srcp_001",
		RunID:        s.RunID,
		SettlementID: s.SettlementID,
		DecisionRef:  DecisionRef{DecisionID: d.DecisionID, DecisionHash: h},
		SettledAt:    "2026-03-01T10:00:05Z",
		CreatedAt:    "2026-03-01T10:00:05Z",
	}
}

func TestResolveRelease(t *testing.T) {
	s := lockedSettlement()
	d := decisionFor(s, StatusReleased, 10000, 0)
	got, err := Resolve(s, d, receiptFor(t, s, d))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Status != StatusReleased || got.ReleasedAmountCents != 10000 || got.RefundedAmountCents != 0 {
		t.Fatalf("unexpected terminal state: %+v", got)
	}
	if got.Revision != s.Revision+1 {
		t.Fatalf("revision = %d, want %d", got.Revision, s.Revision+1)
	}
}

func TestResolvePartialSplit(t *testing.T) {
	s := lockedSettlement()
	d := decisionFor(s, StatusReleased, 2500, 7500)
	got, err := Resolve(s, d, receiptFor(t, s, d))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ReleasedAmountCents != 2500 || got.RefundedAmountCents != 7500 {
		t.Fatalf("split = %d/%d, want 2500/7500", got.ReleasedAmountCents, got.RefundedAmountCents)
	}
}

func TestResolveSingleShot(t *testing.T) {
	s := lockedSettlement()
	d := decisionFor(s, StatusRefunded, 0, 10000)
	r := receiptFor(t, s, d)
	got, err := Resolve(s, d, r)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	// Replaying identical parameters against the terminal state still fails.
	if _, err := Resolve(got, d, r); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second resolve err = %v, want %v", err, ErrAlreadyResolved)
	}
}

func TestResolvePartitionMismatch(t *testing.T) {
	s := lockedSettlement()
	for _, tc := range []struct {
		released, refunded int64
	}{
		{10000, 1},
		{9999, 0},
		{-1, 10001},
		{10001, -1},
	} {
		d := decisionFor(s, StatusReleased, tc.released, tc.refunded)
		if _, err := Resolve(s, d, receiptFor(t, s, d)); !errors.Is(err, ErrPartitionMismatch) {
			t.Fatalf("released=%d refunded=%d: err = %v, want %v", tc.released, tc.refunded, err, ErrPartitionMismatch)
		}
	}
}

func TestResolveDecisionMismatch(t *testing.T) {
	s := lockedSettlement()
	d := decisionFor(s, StatusReleased, 10000, 0)
	d.SettlementID = "stl_other"
	if _, err := Resolve(s, d, receiptFor(t, s, d)); !errors.Is(err, ErrDecisionMismatch) {
		t.Fatalf("err = %v, want %v", err, ErrDecisionMismatch)
	}
}

func TestResolveReceiptBinding(t *testing.T) {
	s := lockedSettlement()
	d := decisionFor(s, StatusReleased, 10000, 0)

	r := receiptFor(t, s, d)
	r.DecisionRef.DecisionHash = "0000000000000000000000000000000000000000000000000000000000000000"
	if _, err := Resolve(s, d, r); !errors.Is(err, ErrReceiptMismatch) {
		t.Fatalf("stale hash: err = %v, want %v", err, ErrReceiptMismatch)
	}

	r = receiptFor(t, s, d)
	r.RunID = "run_other"
	if _, err := Resolve(s, d, r); !errors.Is(err, ErrReceiptMismatch) {
		t.Fatalf("foreign run: err = %v, want %v", err, ErrReceiptMismatch)
	}

	// A mutated decision invalidates a receipt issued for the original.
	r = receiptFor(t, s, d)
	d.ReleasedAmountCents = 9000
	d.RefundedAmountCents = 1000
	if _, err := Resolve(s, d, r); !errors.Is(err, ErrReceiptMismatch) {
		t.Fatalf("mutated decision: err = %v, want %v", err, ErrReceiptMismatch)
	}
}

func TestResolveReceiptHashPrefixTolerated(t *testing.T) {
	s := lockedSettlement()
	d := decisionFor(s, StatusReleased, 10000, 0)
	r := receiptFor(t, s, d)
	r.DecisionRef.DecisionHash = "sha256:" + r.DecisionRef.DecisionHash
	if _, err := Resolve(s, d, r); err != nil {
		t.Fatalf("prefixed hash rejected: %v", err)
	}
}

func TestResolveReceiptTimeOrdering(t *testing.T) {
	s := lockedSettlement()
	d := decisionFor(s, StatusReleased, 10000, 0)

	r := receiptFor(t, s, d)
	r.SettledAt = "2026-03-01T09:59:59Z"
	if _, err := Resolve(s, d, r); !errors.Is(err, ErrReceiptTime) {
		t.Fatalf("early settledAt: err = %v, want %v", err, ErrReceiptTime)
	}

	r = receiptFor(t, s, d)
	r.CreatedAt = "2026-03-01T09:00:00Z"
	if _, err := Resolve(s, d, r); !errors.Is(err, ErrReceiptTime) {
		t.Fatalf("early createdAt: err = %v, want %v", err, ErrReceiptTime)
	}

	r = receiptFor(t, s, d)
	r.SettledAt = "not-a-timestamp"
	if _, err := Resolve(s, d, r); !errors.Is(err, ErrReceiptTime) {
		t.Fatalf("malformed settledAt: err = %v, want %v", err, ErrReceiptTime)
	}
}

func TestResolveInvalidTerminalStatus(t *testing.T) {
	s := lockedSettlement()
	d := decisionFor(s, StatusLocked, 10000, 0)
	if _, err := Resolve(s, d, receiptFor(t, s, d)); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidStatus)
	}
}

func TestHoldbackAdjustmentID(t *testing.T) {
	hash := "4ac54d1e79df0d7248e9a9c7ef9dcaa294be5e6ec6a8a1e428c5b055e01c9655"
	got, err := HoldbackAdjustmentID(hash)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	want := "sadj_agmt_" + hash + "_holdback"
	if got != want {
		t.Fatalf("id = %q, want %q", got, want)
	}

	if _, err := HoldbackAdjustmentID("sha256:" + hash); err != nil {
		t.Fatalf("prefixed hash rejected: %v", err)
	}

	for _, bad := range []string{"", "zz", hash[:63], hash + "0", "4AC54D1E79DF0D7248E9A9C7EF9DCAA294BE5E6EC6A8A1E428C5B055E01C9655"} {
		if _, err := HoldbackAdjustmentID(bad); err == nil {
			t.Fatalf("hash %q accepted", bad)
		}
	}
}
