// Package ledger implements the escrow wallet math: pure snapshot-in,
// snapshot-out money movement with exact conservation. Persistence,
// serialization of concurrent mutations and idempotency keys belong to the
// calling layer.
package ledger

import "fmt"

// Wallet is one agent's balance within a tenant and currency. All cent
// fields are non-negative at all times; Revision increments on every
// mutation and is the optimistic-concurrency token for durable storage.
type Wallet struct {
	WalletID           string `json:"walletId"`
	AgentID            string `json:"agentId"`
	TenantID           string `json:"tenantId"`
	Currency           string `json:"currency"`
	AvailableCents     int64  `json:"availableCents"`
	EscrowLockedCents  int64  `json:"escrowLockedCents"`
	TotalDebitedCents  int64  `json:"totalDebitedCents"`
	TotalCreditedCents int64  `json:"totalCreditedCents"`
	Revision           int64  `json:"revision"`
}

// Error is a kernel failure with a stable machine code. Callers branch on
// Code, never on message text.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

var (
	ErrInvalidAmount             = &Error{Code: "INVALID_AMOUNT", Message: "amount must be a positive integer of cents"}
	ErrInsufficientWalletBalance = &Error{Code: "INSUFFICIENT_WALLET_BALANCE", Message: "available balance is less than the requested amount"}
	ErrInsufficientEscrowBalance = &Error{Code: "INSUFFICIENT_ESCROW_BALANCE", Message: "escrow balance is less than the requested amount"}
	ErrCurrencyMismatch          = &Error{Code: "WALLET_CURRENCY_MISMATCH", Message: "wallets must share a currency"}
	ErrCorruptWallet             = &Error{Code: "WALLET_STATE_CORRUPT", Message: "wallet carries a negative balance"}
)

// check rejects wallets that violate the non-negativity invariant. A negative
// balance can only appear through a bug in a mutation path, so it is reported
// as corruption rather than a domain failure.
func check(w Wallet) error {
	if w.AvailableCents < 0 || w.EscrowLockedCents < 0 || w.TotalDebitedCents < 0 || w.TotalCreditedCents < 0 {
		return ErrCorruptWallet
	}
	return nil
}

// Lock moves amountCents from available into escrow.
func Lock(w Wallet, amountCents int64) (Wallet, error) {
	if err := check(w); err != nil {
		return Wallet{}, err
	}
	if amountCents <= 0 {
		return Wallet{}, ErrInvalidAmount
	}
	if w.AvailableCents < amountCents {
		return Wallet{}, ErrInsufficientWalletBalance
	}
	w.AvailableCents -= amountCents
	w.EscrowLockedCents += amountCents
	w.Revision++
	return w, nil
}

// Release pays escrowed funds from the payer to the payee.
func Release(payer, payee Wallet, amountCents int64) (Wallet, Wallet, error) {
	if err := check(payer); err != nil {
		return Wallet{}, Wallet{}, err
	}
	if err := check(payee); err != nil {
		return Wallet{}, Wallet{}, err
	}
	if amountCents <= 0 {
		return Wallet{}, Wallet{}, ErrInvalidAmount
	}
	if payer.Currency != payee.Currency {
		return Wallet{}, Wallet{}, ErrCurrencyMismatch
	}
	if payer.EscrowLockedCents < amountCents {
		return Wallet{}, Wallet{}, ErrInsufficientEscrowBalance
	}
	payer.EscrowLockedCents -= amountCents
	payer.TotalDebitedCents += amountCents
	payer.Revision++
	payee.AvailableCents += amountCents
	payee.TotalCreditedCents += amountCents
	payee.Revision++
	return payer, payee, nil
}

// Refund returns escrowed funds to the payer's available balance.
func Refund(w Wallet, amountCents int64) (Wallet, error) {
	if err := check(w); err != nil {
		return Wallet{}, err
	}
	if amountCents <= 0 {
		return Wallet{}, ErrInvalidAmount
	}
	if w.EscrowLockedCents < amountCents {
		return Wallet{}, ErrInsufficientEscrowBalance
	}
	w.EscrowLockedCents -= amountCents
	w.AvailableCents += amountCents
	w.TotalCreditedCents += amountCents
	w.Revision++
	return w, nil
}

// Net is the conserved quantity for a single wallet:
// available + escrowLocked + totalDebited - totalCredited.
// Lock and the payer side of Release keep it constant; credits shift it by
// exactly the credited amount, which the cross-wallet conservation check in
// callers accounts for.
func Net(w Wallet) int64 {
	return w.AvailableCents + w.EscrowLockedCents + w.TotalDebitedCents - w.TotalCreditedCents
}

// String implements fmt.Stringer for debug logging in collaborators.
func (w Wallet) String() string {
	return fmt.Sprintf("wallet %s agent=%s %s avail=%d escrow=%d debit=%d credit=%d rev=%d",
		w.WalletID, w.AgentID, w.Currency, w.AvailableCents, w.EscrowLockedCents, w.TotalDebitedCents, w.TotalCreditedCents, w.Revision)
}
