// Package store is the pgx persistence collaborator around the kernel
// packages. It owns durable state, transaction boundaries, optimistic
// concurrency on revisions and idempotency-key replay; all money and state
// machine logic stays in pkg/ledger, pkg/settlement and pkg/dispute.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nooterra/nooterra-sub010/pkg/dispute"
	"github.com/nooterra/nooterra-sub010/pkg/ledger"
	"github.com/nooterra/nooterra-sub010/pkg/settlement"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrStaleRevision = errors.New("revision conflict, reload and retry")
	ErrDisputeOpen   = errors.New("settlement is frozen by an open dispute")
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// NewID mints a prefixed entity id, e.g. stl_6f1c9f4e...
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func (s *Store) GetWallet(ctx context.Context, walletID string) (ledger.Wallet, error) {
	return getWallet(ctx, s.DB, walletID)
}

// rowQuerier is the minimal read surface shared by *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getWallet(ctx context.Context, q rowQuerier, walletID string) (ledger.Wallet, error) {
	var w ledger.Wallet
	err := q.QueryRow(ctx, `
SELECT wallet_id, agent_id, tenant_id, currency,
       available_cents, escrow_locked_cents, total_debited_cents, total_credited_cents, revision
FROM wallets WHERE wallet_id = $1`, walletID).
		Scan(&w.WalletID, &w.AgentID, &w.TenantID, &w.Currency,
			&w.AvailableCents, &w.EscrowLockedCents, &w.TotalDebitedCents, &w.TotalCreditedCents, &w.Revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Wallet{}, ErrNotFound
	}
	return w, err
}

func (s *Store) CreateWallet(ctx context.Context, w ledger.Wallet) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO wallets(wallet_id, agent_id, tenant_id, currency,
  available_cents, escrow_locked_cents, total_debited_cents, total_credited_cents, revision)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		w.WalletID, w.AgentID, w.TenantID, w.Currency,
		w.AvailableCents, w.EscrowLockedCents, w.TotalDebitedCents, w.TotalCreditedCents, w.Revision)
	return err
}

// saveWallet persists a mutated wallet snapshot with compare-and-swap on the
// pre-mutation revision. The kernel increments Revision on every mutation, so
// the expected stored revision is w.Revision-1.
func saveWallet(ctx context.Context, tx pgx.Tx, w ledger.Wallet) error {
	tag, err := tx.Exec(ctx, `
UPDATE wallets SET
  available_cents = $1, escrow_locked_cents = $2,
  total_debited_cents = $3, total_credited_cents = $4,
  revision = $5, updated_at = now()
WHERE wallet_id = $6 AND revision = $7`,
		w.AvailableCents, w.EscrowLockedCents, w.TotalDebitedCents, w.TotalCreditedCents,
		w.Revision, w.WalletID, w.Revision-1)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrStaleRevision
	}
	return nil
}

func (s *Store) GetSettlement(ctx context.Context, settlementID string) (settlement.Settlement, error) {
	var st settlement.Settlement
	err := s.DB.QueryRow(ctx, `
SELECT settlement_id, run_id, agent_id, payer_agent_id, amount_cents, currency,
       status, released_amount_cents, refunded_amount_cents, revision
FROM settlements WHERE settlement_id = $1`, settlementID).
		Scan(&st.SettlementID, &st.RunID, &st.AgentID, &st.PayerAgentID, &st.AmountCents, &st.Currency,
			&st.Status, &st.ReleasedAmountCents, &st.RefundedAmountCents, &st.Revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return settlement.Settlement{}, ErrNotFound
	}
	return st, err
}

// LockEscrow moves funds from the payer wallet into escrow and creates the
// locked settlement, in one transaction.
func (s *Store) LockEscrow(ctx context.Context, payerWalletID string, st settlement.Settlement) (settlement.Settlement, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return settlement.Settlement{}, err
	}
	defer tx.Rollback(ctx)

	payer, err := getWallet(ctx, tx, payerWalletID)
	if err != nil {
		return settlement.Settlement{}, err
	}
	if payer.Currency != st.Currency {
		return settlement.Settlement{}, ledger.ErrCurrencyMismatch
	}
	payer, err = ledger.Lock(payer, st.AmountCents)
	if err != nil {
		return settlement.Settlement{}, err
	}
	if err := saveWallet(ctx, tx, payer); err != nil {
		return settlement.Settlement{}, err
	}

	st.Status = settlement.StatusLocked
	st.Revision = 0
	if _, err := tx.Exec(ctx, `
INSERT INTO settlements(settlement_id, run_id, agent_id, payer_agent_id, amount_cents, currency,
  status, released_amount_cents, refunded_amount_cents, revision)
VALUES($1,$2,$3,$4,$5,$6,$7,0,0,0)`,
		st.SettlementID, st.RunID, st.AgentID, st.PayerAgentID, st.AmountCents, st.Currency, st.Status); err != nil {
		return settlement.Settlement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return settlement.Settlement{}, err
	}
	return st, nil
}

// ResolveSettlement applies a decision and receipt to a locked settlement and
// moves the escrowed funds accordingly. An open dispute on the settlement
// freezes resolution; the freeze check and the terminal write share one
// transaction so a dispute opened concurrently cannot slip through.
func (s *Store) ResolveSettlement(ctx context.Context, payerWalletID, payeeWalletID string, decision settlement.DecisionRecord, receipt settlement.Receipt) (settlement.Settlement, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return settlement.Settlement{}, err
	}
	defer tx.Rollback(ctx)

	var st settlement.Settlement
	err = tx.QueryRow(ctx, `
SELECT settlement_id, run_id, agent_id, payer_agent_id, amount_cents, currency,
       status, released_amount_cents, refunded_amount_cents, revision
FROM settlements WHERE settlement_id = $1 FOR UPDATE`, decision.SettlementID).
		Scan(&st.SettlementID, &st.RunID, &st.AgentID, &st.PayerAgentID, &st.AmountCents, &st.Currency,
			&st.Status, &st.ReleasedAmountCents, &st.RefundedAmountCents, &st.Revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return settlement.Settlement{}, ErrNotFound
	}
	if err != nil {
		return settlement.Settlement{}, err
	}

	var openDisputes int
	if err := tx.QueryRow(ctx, `
SELECT count(*) FROM disputes WHERE settlement_id = $1 AND status = $2`,
		st.SettlementID, dispute.DisputeOpen).Scan(&openDisputes); err != nil {
		return settlement.Settlement{}, err
	}
	if openDisputes > 0 {
		return settlement.Settlement{}, ErrDisputeOpen
	}

	resolved, err := settlement.Resolve(st, decision, receipt)
	if err != nil {
		return settlement.Settlement{}, err
	}

	payer, err := getWallet(ctx, tx, payerWalletID)
	if err != nil {
		return settlement.Settlement{}, err
	}
	payee, err := getWallet(ctx, tx, payeeWalletID)
	if err != nil {
		return settlement.Settlement{}, err
	}

	if resolved.ReleasedAmountCents > 0 {
		payer, payee, err = ledger.Release(payer, payee, resolved.ReleasedAmountCents)
		if err != nil {
			return settlement.Settlement{}, err
		}
		if err := saveWallet(ctx, tx, payee); err != nil {
			return settlement.Settlement{}, err
		}
	}
	if resolved.RefundedAmountCents > 0 {
		payer, err = ledger.Refund(payer, resolved.RefundedAmountCents)
		if err != nil {
			return settlement.Settlement{}, err
		}
	}
	if err := saveWallet(ctx, tx, payer); err != nil {
		return settlement.Settlement{}, err
	}

	tag, err := tx.Exec(ctx, `
UPDATE settlements SET
  status = $1, released_amount_cents = $2, refunded_amount_cents = $3,
  revision = $4, updated_at = now()
WHERE settlement_id = $5 AND revision = $6`,
		resolved.Status, resolved.ReleasedAmountCents, resolved.RefundedAmountCents,
		resolved.Revision, resolved.SettlementID, st.Revision)
	if err != nil {
		return settlement.Settlement{}, err
	}
	if tag.RowsAffected() != 1 {
		return settlement.Settlement{}, ErrStaleRevision
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO settlement_receipts(receipt_id, run_id, settlement_id, decision_id, decision_hash, settled_at, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7)`,
		receipt.ReceiptID, receipt.RunID, receipt.SettlementID,
		receipt.DecisionRef.DecisionID, receipt.DecisionRef.DecisionHash,
		receipt.SettledAt, receipt.CreatedAt); err != nil {
		return settlement.Settlement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return settlement.Settlement{}, err
	}
	return resolved, nil
}

// OpenDispute records a dispute on a settlement. The settlement row is locked
// so the status the kernel validates against is the status that holds when
// the dispute row lands.
func (s *Store) OpenDispute(ctx context.Context, d dispute.Dispute) (dispute.Dispute, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return dispute.Dispute{}, err
	}
	defer tx.Rollback(ctx)

	var settlementStatus string
	err = tx.QueryRow(ctx, `SELECT status FROM settlements WHERE settlement_id = $1 FOR UPDATE`,
		d.SettlementID).Scan(&settlementStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return dispute.Dispute{}, ErrNotFound
	}
	if err != nil {
		return dispute.Dispute{}, err
	}

	opened, err := dispute.Open(d, settlementStatus, time.Now().UTC())
	if err != nil {
		return dispute.Dispute{}, err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO disputes(dispute_id, settlement_id, status, window_ends_at, opened_at)
VALUES($1,$2,$3,$4,$5)
ON CONFLICT (dispute_id) DO UPDATE SET status = $3, opened_at = $5, closed_at = NULL`,
		opened.DisputeID, opened.SettlementID, opened.Status, opened.WindowEndsAt, opened.OpenedAt); err != nil {
		return dispute.Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return dispute.Dispute{}, err
	}
	return opened, nil
}

func (s *Store) CloseDispute(ctx context.Context, disputeID string) error {
	now := time.Now().UTC()
	tag, err := s.DB.Exec(ctx, `
UPDATE disputes SET status = $1, closed_at = $2 WHERE dispute_id = $3 AND status = $4`,
		dispute.DisputeClosed, now, disputeID, dispute.DisputeOpen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return dispute.ErrTransitionIllegal
	}
	return nil
}

func (s *Store) GetCase(ctx context.Context, caseID string) (dispute.ArbitrationCase, error) {
	var c dispute.ArbitrationCase
	err := s.DB.QueryRow(ctx, `
SELECT case_id, dispute_id, status, evidence_refs, revision FROM arbitration_cases WHERE case_id = $1`,
		caseID).Scan(&c.CaseID, &c.DisputeID, &c.Status, &c.EvidenceRefs, &c.Revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return dispute.ArbitrationCase{}, ErrNotFound
	}
	return c, err
}

func (s *Store) CreateCase(ctx context.Context, c dispute.ArbitrationCase) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO arbitration_cases(case_id, dispute_id, status, evidence_refs, revision)
VALUES($1,$2,$3,$4,0)`, c.CaseID, c.DisputeID, dispute.CaseOpen, c.EvidenceRefs)
	return err
}

// AdvanceCase applies one kernel-validated case transition with revision CAS.
func (s *Store) AdvanceCase(ctx context.Context, caseID, next string, windowEndsAt time.Time) (dispute.ArbitrationCase, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return dispute.ArbitrationCase{}, err
	}
	advanced, err := dispute.AdvanceCase(c, next, windowEndsAt, time.Now().UTC())
	if err != nil {
		return dispute.ArbitrationCase{}, err
	}
	tag, err := s.DB.Exec(ctx, `
UPDATE arbitration_cases SET status = $1, revision = $2, updated_at = now()
WHERE case_id = $3 AND revision = $4`,
		advanced.Status, advanced.Revision, caseID, c.Revision)
	if err != nil {
		return dispute.ArbitrationCase{}, err
	}
	if tag.RowsAffected() != 1 {
		return dispute.ArbitrationCase{}, ErrStaleRevision
	}
	return advanced, nil
}

// ApplyAdjustment records a settlement adjustment under its deterministic id.
// Replays are absorbed by the primary key; the first write wins.
func (s *Store) ApplyAdjustment(ctx context.Context, adjustmentID, settlementID string, releasedCents, refundedCents int64) error {
	tag, err := s.DB.Exec(ctx, `
INSERT INTO settlement_adjustments(adjustment_id, settlement_id, released_cents, refunded_cents)
VALUES($1,$2,$3,$4)
ON CONFLICT (adjustment_id) DO NOTHING`,
		adjustmentID, settlementID, releasedCents, refundedCents)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Duplicate apply: verify it matches the stored adjustment.
		var storedSettlement string
		var storedReleased, storedRefunded int64
		if err := s.DB.QueryRow(ctx, `
SELECT settlement_id, released_cents, refunded_cents FROM settlement_adjustments WHERE adjustment_id = $1`,
			adjustmentID).Scan(&storedSettlement, &storedReleased, &storedRefunded); err != nil {
			return err
		}
		if storedSettlement != settlementID || storedReleased != releasedCents || storedRefunded != refundedCents {
			return fmt.Errorf("adjustment %s replayed with different parameters", adjustmentID)
		}
	}
	return nil
}
