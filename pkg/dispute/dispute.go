// Package dispute implements the dispute and arbitration state machines and
// the deterministic verdict-to-directive mapping that drives settlement
// resolution after arbitration.
package dispute

import (
	"time"

	"github.com/nooterra/nooterra-sub010/pkg/settlement"
)

const (
	// Dispute sub-states on a settlement.
	DisputeNone   = "none"
	DisputeOpen   = "open"
	DisputeClosed = "closed"

	// Arbitration case states.
	CaseOpen          = "open"
	CaseUnderReview   = "under_review"
	CaseVerdictIssued = "verdict_issued"
	CaseClosed        = "closed"

	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomePartial  = "partial"
)

type Dispute struct {
	DisputeID    string    `json:"disputeId"`
	SettlementID string    `json:"settlementId"`
	Status       string    `json:"status"`
	WindowEndsAt time.Time `json:"windowEndsAt"`
	OpenedAt     time.Time `json:"openedAt,omitempty"`
	ClosedAt     time.Time `json:"closedAt,omitempty"`
}

type ArbitrationCase struct {
	CaseID       string   `json:"caseId"`
	DisputeID    string   `json:"disputeId"`
	Status       string   `json:"status"`
	EvidenceRefs []string `json:"evidenceRefs"`
	Revision     int64    `json:"revision"`
}

type Verdict struct {
	Outcome        string `json:"outcome"`
	ReleaseRatePct int64  `json:"releaseRatePct"`
}

// Directive is the authoritative settlement split derived from a verdict.
type Directive struct {
	Status         string `json:"status"`
	ReleaseRatePct int64  `json:"releaseRatePct"`
	ReleasedCents  int64  `json:"releasedCents"`
	RefundedCents  int64  `json:"refundedCents"`
}

// ResolveRequest carries the optional explicit fields a caller may supply
// alongside a verdict. Nil means omitted; present fields must agree with the
// derived directive exactly.
type ResolveRequest struct {
	Status         *string `json:"status,omitempty"`
	ReleaseRatePct *int64  `json:"releaseRatePct,omitempty"`
	ReleasedCents  *int64  `json:"releasedCents,omitempty"`
	RefundedCents  *int64  `json:"refundedCents,omitempty"`
}

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

var (
	ErrTransitionIllegal = &Error{Code: "TRANSITION_ILLEGAL", Message: "state transition not permitted"}
	ErrDirectiveInvalid  = &Error{Code: "DISPUTE_OUTCOME_DIRECTIVE_INVALID", Message: "verdict does not map to a valid settlement directive"}
	ErrStatusMismatch    = &Error{Code: "DISPUTE_OUTCOME_STATUS_MISMATCH", Message: "explicit status conflicts with the verdict directive"}
	ErrAmountMismatch    = &Error{Code: "DISPUTE_OUTCOME_AMOUNT_MISMATCH", Message: "explicit amounts conflict with the verdict directive"}
)

// Open transitions a dispute to open. The initial open requires status none;
// a reopen from closed additionally requires the parent settlement to still
// be locked and the dispute window to not have expired.
func Open(d Dispute, settlementStatus string, now time.Time) (Dispute, error) {
	switch d.Status {
	case DisputeNone, "":
		d.Status = DisputeOpen
		d.OpenedAt = now.UTC()
		return d, nil
	case DisputeClosed:
		if settlementStatus != settlement.StatusLocked || !now.Before(d.WindowEndsAt) {
			return Dispute{}, ErrTransitionIllegal
		}
		d.Status = DisputeOpen
		d.OpenedAt = now.UTC()
		d.ClosedAt = time.Time{}
		return d, nil
	default:
		return Dispute{}, ErrTransitionIllegal
	}
}

func Close(d Dispute, now time.Time) (Dispute, error) {
	if d.Status != DisputeOpen {
		return Dispute{}, ErrTransitionIllegal
	}
	d.Status = DisputeClosed
	d.ClosedAt = now.UTC()
	return d, nil
}

var caseNext = map[string]string{
	CaseOpen:          CaseUnderReview,
	CaseUnderReview:   CaseVerdictIssued,
	CaseVerdictIssued: CaseClosed,
}

// AdvanceCase moves an arbitration case forward one step. Transitions are
// strictly ordered and fail closed after the dispute window has expired.
func AdvanceCase(c ArbitrationCase, next string, windowEndsAt, now time.Time) (ArbitrationCase, error) {
	if !now.Before(windowEndsAt) {
		return ArbitrationCase{}, ErrTransitionIllegal
	}
	want, ok := caseNext[c.Status]
	if !ok || want != next {
		return ArbitrationCase{}, ErrTransitionIllegal
	}
	c.Status = next
	c.Revision++
	return c, nil
}

// MapVerdictToDirective derives the authoritative release/refund split for a
// settlement amount. Partial outcomes use floor division and must produce a
// true split with both sides nonzero.
func MapVerdictToDirective(v Verdict, amountCents int64) (Directive, error) {
	if amountCents <= 0 {
		return Directive{}, ErrDirectiveInvalid
	}
	switch v.Outcome {
	case OutcomeAccepted:
		return Directive{
			Status:         settlement.StatusReleased,
			ReleaseRatePct: 100,
			ReleasedCents:  amountCents,
			RefundedCents:  0,
		}, nil
	case OutcomeRejected:
		return Directive{
			Status:         settlement.StatusRefunded,
			ReleaseRatePct: 0,
			ReleasedCents:  0,
			RefundedCents:  amountCents,
		}, nil
	case OutcomePartial:
		if v.ReleaseRatePct < 1 || v.ReleaseRatePct > 99 {
			return Directive{}, ErrDirectiveInvalid
		}
		// floor(amount*pct/100) computed without the intermediate product,
		// which overflows int64 for large escrows.
		released := amountCents/100*v.ReleaseRatePct + amountCents%100*v.ReleaseRatePct/100
		refunded := amountCents - released
		if released == 0 || refunded == 0 {
			return Directive{}, ErrDirectiveInvalid
		}
		return Directive{
			Status:         settlement.StatusReleased,
			ReleaseRatePct: v.ReleaseRatePct,
			ReleasedCents:  released,
			RefundedCents:  refunded,
		}, nil
	default:
		return Directive{}, ErrDirectiveInvalid
	}
}

// CheckResolveRequest validates explicit caller fields against the derived
// directive. The directive is authoritative; callers may omit fields but
// never override them.
func CheckResolveRequest(directive Directive, req ResolveRequest) error {
	if req.Status != nil && *req.Status != directive.Status {
		return ErrStatusMismatch
	}
	if req.ReleaseRatePct != nil && *req.ReleaseRatePct != directive.ReleaseRatePct {
		return ErrAmountMismatch
	}
	if req.ReleasedCents != nil && *req.ReleasedCents != directive.ReleasedCents {
		return ErrAmountMismatch
	}
	if req.RefundedCents != nil && *req.RefundedCents != directive.RefundedCents {
		return ErrAmountMismatch
	}
	return nil
}
