// Package settlement implements the single-shot settlement state machine:
// locked escrow resolves exactly once into a released/refunded partition that
// conserves the settlement amount, bound to a decision record and receipt by
// hash references.
package settlement

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nooterra/nooterra-sub010/pkg/canonhash"
)

const (
	StatusLocked   = "locked"
	StatusReleased = "released"
	StatusRefunded = "refunded"
)

type Settlement struct {
	SettlementID        string `json:"settlementId"`
	RunID               string `json:"runId"`
	AgentID             string `json:"agentId"`
	PayerAgentID        string `json:"payerAgentId"`
	AmountCents         int64  `json:"amountCents"`
	Currency            string `json:"currency"`
	Status              string `json:"status"`
	ReleasedAmountCents int64  `json:"releasedAmountCents"`
	RefundedAmountCents int64  `json:"refundedAmountCents"`
	Revision            int64  `json:"revision"`
}

// DecisionRecord captures the deterministic settlement decision. Its hash
// excludes the decisionHash field itself.
type DecisionRecord struct {
	DecisionID          string `json:"decisionId"`
	RunID               string `json:"runId"`
	SettlementID        string `json:"settlementId"`
	Status              string `json:"status"`
	ReleasedAmountCents int64  `json:"releasedAmountCents"`
	RefundedAmountCents int64  `json:"refundedAmountCents"`
	DecidedAt           string `json:"decidedAt"`
	DecisionHash        string `json:"decisionHash,omitempty"`
}

type DecisionRef struct {
	DecisionID   string `json:"decisionId"`
	DecisionHash string `json:"decisionHash"`
}

// Receipt is the durable proof a settlement was executed against a specific
// decision. SettledAt and CreatedAt must not precede DecidedAt.
type Receipt struct {
	ReceiptID    string      `json:"receiptId"`
	RunID        string      `json:"runId"`
	SettlementID string      `json:"settlementId"`
	DecisionRef  DecisionRef `json:"decisionRef"`
	SettledAt    string      `json:"settledAt"`
	CreatedAt    string      `json:"createdAt"`
}

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

var (
	ErrAlreadyResolved   = &Error{Code: "SETTLEMENT_ALREADY_RESOLVED", Message: "settlement already resolved"}
	ErrPartitionMismatch = &Error{Code: "SETTLEMENT_PARTITION_MISMATCH", Message: "released plus refunded must equal the settlement amount"}
	ErrDecisionMismatch  = &Error{Code: "SETTLEMENT_DECISION_MISMATCH", Message: "decision does not reference this settlement"}
	ErrReceiptMismatch   = &Error{Code: "SETTLEMENT_RECEIPT_MISMATCH", Message: "receipt does not reference this settlement and decision"}
	ErrReceiptTime       = &Error{Code: "SETTLEMENT_RECEIPT_TIME_INVALID", Message: "receipt times must not precede the decision time"}
	ErrInvalidStatus     = &Error{Code: "SETTLEMENT_STATUS_INVALID", Message: "terminal status must be released or refunded"}
)

// HashDecision computes the decision's own hash with decisionHash excluded.
func HashDecision(d DecisionRecord) (string, error) {
	return canonhash.HashCanonical(d, "decisionHash")
}

// Resolve applies a decision and receipt to a locked settlement. Exactly one
// resolution is permitted; replays of an already-terminal settlement fail
// regardless of whether the parameters match (idempotency-key deduplication
// is the storage layer's concern).
func Resolve(s Settlement, decision DecisionRecord, receipt Receipt) (Settlement, error) {
	if s.Status != StatusLocked {
		return Settlement{}, ErrAlreadyResolved
	}
	if decision.Status != StatusReleased && decision.Status != StatusRefunded {
		return Settlement{}, ErrInvalidStatus
	}
	if decision.RunID != s.RunID || decision.SettlementID != s.SettlementID {
		return Settlement{}, ErrDecisionMismatch
	}
	if decision.ReleasedAmountCents < 0 || decision.RefundedAmountCents < 0 {
		return Settlement{}, ErrPartitionMismatch
	}
	if decision.ReleasedAmountCents+decision.RefundedAmountCents != s.AmountCents {
		return Settlement{}, ErrPartitionMismatch
	}

	if receipt.RunID != s.RunID || receipt.SettlementID != s.SettlementID {
		return Settlement{}, ErrReceiptMismatch
	}
	decisionHash, err := HashDecision(decision)
	if err != nil {
		return Settlement{}, err
	}
	if receipt.DecisionRef.DecisionID != decision.DecisionID ||
		canonhash.StripPrefix(receipt.DecisionRef.DecisionHash) != decisionHash {
		return Settlement{}, ErrReceiptMismatch
	}

	decidedAt, err := parseUTC(decision.DecidedAt)
	if err != nil {
		return Settlement{}, ErrReceiptTime
	}
	settledAt, err := parseUTC(receipt.SettledAt)
	if err != nil {
		return Settlement{}, ErrReceiptTime
	}
	createdAt, err := parseUTC(receipt.CreatedAt)
	if err != nil {
		return Settlement{}, ErrReceiptTime
	}
	if settledAt.Before(decidedAt) || createdAt.Before(decidedAt) {
		return Settlement{}, ErrReceiptTime
	}

	s.Status = decision.Status
	s.ReleasedAmountCents = decision.ReleasedAmountCents
	s.RefundedAmountCents = decision.RefundedAmountCents
	s.Revision++
	return s, nil
}

var hexHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// HoldbackAdjustmentID derives the deterministic idempotent ID for a holdback
// settlement adjustment. The format is a cross-implementation interop
// contract and must not change.
func HoldbackAdjustmentID(agreementHash string) (string, error) {
	h := canonhash.StripPrefix(agreementHash)
	if !hexHashPattern.MatchString(h) {
		return "", &Error{Code: "AGREEMENT_HASH_INVALID", Message: "agreementHash must be 64 lowercase hex characters"}
	}
	return fmt.Sprintf("sadj_agmt_%s_holdback", h), nil
}

func parseUTC(v string) (time.Time, error) {
	s := strings.TrimSpace(v)
	if !strings.HasSuffix(s, "Z") {
		return time.Time{}, fmt.Errorf("timestamp must be RFC3339 UTC: %q", v)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
