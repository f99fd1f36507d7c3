// Package delegation models the parent/child agreement delegation graph with
// depth and budget-cap invariants, supporting cascading settlement checks and
// refund unwinds across the chain.
package delegation

import (
	"strings"

	"github.com/nooterra/nooterra-sub010/pkg/canonhash"
)

const (
	StatusActive  = "active"
	StatusSettled = "settled"
	StatusRevoked = "revoked"
)

type Delegation struct {
	DelegationID        string `json:"delegationId"`
	ParentAgreementHash string `json:"parentAgreementHash"`
	ChildAgreementHash  string `json:"childAgreementHash"`
	DelegationDepth     int    `json:"delegationDepth"`
	MaxDelegationDepth  int    `json:"maxDelegationDepth"`
	BudgetCapCents      int64  `json:"budgetCapCents"`
	Status              string `json:"status"`
}

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

var (
	ErrInvalidBudgetCap   = &Error{Code: "DELEGATION_BUDGET_CAP_INVALID", Message: "budgetCapCents must be positive"}
	ErrDepthExceeded      = &Error{Code: "DELEGATION_DEPTH_EXCEEDED", Message: "delegation depth exceeds the configured maximum"}
	ErrSelfDelegation     = &Error{Code: "DELEGATION_SELF_REFERENCE", Message: "parent and child agreement must differ"}
	ErrAncestorChain      = &Error{Code: "DELEGATION_ANCESTOR_CHAIN_INVALID", Message: "ancestor chain is inconsistent with the delegation"}
	ErrUnknownDelegation  = &Error{Code: "DELEGATION_NOT_FOUND", Message: "delegation not present in the graph"}
	ErrTerminalConflict   = &Error{Code: "DELEGATION_TERMINAL_CONFLICT", Message: "delegation already in a conflicting terminal status"}
	ErrChildNotTerminal   = &Error{Code: "DELEGATION_CHILD_NOT_TERMINAL", Message: "child delegations must settle before the parent"}
	ErrParentNotRevocable = &Error{Code: "DELEGATION_PARENT_NOT_REVOCABLE", Message: "refund unwind requires the parent chain to be unsettled"}
)

// Hash computes the delegation identity hash. Mutable lifecycle fields are
// excluded so identity survives status transitions.
func Hash(d Delegation) (string, error) {
	return canonhash.HashCanonical(d, "status")
}

// Graph is an in-memory delegation arena keyed by child agreement hash. It is
// a pure data structure; the collaborator owns persistence.
type Graph struct {
	byChild  map[string]*Delegation
	byParent map[string][]string
}

func NewGraph() *Graph {
	return &Graph{
		byChild:  map[string]*Delegation{},
		byParent: map[string][]string{},
	}
}

// Create validates and inserts a delegation. ancestorChain must list the
// agreement hashes from the root agreement down to (and including) the
// parent, so its length equals the delegation depth.
func (g *Graph) Create(d Delegation, ancestorChain []string) (*Delegation, error) {
	if d.BudgetCapCents <= 0 {
		return nil, ErrInvalidBudgetCap
	}
	if d.DelegationDepth < 1 || d.DelegationDepth > d.MaxDelegationDepth {
		return nil, ErrDepthExceeded
	}
	parent := strings.TrimSpace(d.ParentAgreementHash)
	child := strings.TrimSpace(d.ChildAgreementHash)
	if parent == "" || child == "" || parent == child {
		return nil, ErrSelfDelegation
	}
	if len(ancestorChain) != d.DelegationDepth {
		return nil, ErrAncestorChain
	}
	if ancestorChain[len(ancestorChain)-1] != parent {
		return nil, ErrAncestorChain
	}
	seen := map[string]struct{}{child: {}}
	for _, h := range ancestorChain {
		if _, dup := seen[h]; dup {
			return nil, ErrAncestorChain
		}
		seen[h] = struct{}{}
	}
	if _, exists := g.byChild[child]; exists {
		return nil, ErrAncestorChain
	}

	d.Status = StatusActive
	node := &d
	g.byChild[child] = node
	g.byParent[parent] = append(g.byParent[parent], child)
	return node, nil
}

func (g *Graph) Get(childAgreementHash string) (*Delegation, bool) {
	d, ok := g.byChild[childAgreementHash]
	return d, ok
}

// Children returns the child agreement hashes delegated from an agreement, in
// insertion order.
func (g *Graph) Children(agreementHash string) []string {
	return g.byParent[agreementHash]
}

// CascadeSettlementCheck resolves the bottom-up settlement order for the
// delegation identified by its child agreement hash: the delegation itself
// must be active, everything delegated below it must already be terminal, and
// the returned chain lists the agreement hashes to settle upward, from the
// child through its ancestors to the root agreement.
func (g *Graph) CascadeSettlementCheck(childAgreementHash string) ([]string, error) {
	d, ok := g.byChild[childAgreementHash]
	if !ok {
		return nil, ErrUnknownDelegation
	}
	if d.Status != StatusActive {
		return nil, ErrTerminalConflict
	}
	if err := g.checkSubtreeTerminal(childAgreementHash); err != nil {
		return nil, err
	}

	chain := []string{childAgreementHash}
	for node := d; ; {
		parent := node.ParentAgreementHash
		chain = append(chain, parent)
		next, ok := g.byChild[parent]
		if !ok {
			// The parent is the root agreement, not itself a delegation.
			return chain, nil
		}
		node = next
	}
}

func (g *Graph) checkSubtreeTerminal(agreementHash string) error {
	for _, child := range g.byParent[agreementHash] {
		if g.byChild[child].Status == StatusActive {
			return ErrChildNotTerminal
		}
		if err := g.checkSubtreeTerminal(child); err != nil {
			return err
		}
	}
	return nil
}

// RefundUnwindCheck resolves the top-down refund order for the subtree rooted
// at an agreement: nothing in the subtree may have settled, and the returned
// chain lists the delegated agreement hashes to unwind parent-first in
// depth-first order, starting with the root agreement itself when it is a
// delegation.
func (g *Graph) RefundUnwindCheck(agreementHash string) ([]string, error) {
	var chain []string
	if err := g.collectUnwind(agreementHash, &chain); err != nil {
		return nil, err
	}
	return chain, nil
}

func (g *Graph) collectUnwind(agreementHash string, chain *[]string) error {
	if d, ok := g.byChild[agreementHash]; ok {
		if d.Status == StatusSettled {
			return ErrParentNotRevocable
		}
		*chain = append(*chain, agreementHash)
	}
	for _, child := range g.byParent[agreementHash] {
		if err := g.collectUnwind(child, chain); err != nil {
			return err
		}
	}
	return nil
}

// MarkSettled transitions a delegation to settled. Repeating the same
// terminal transition is idempotent; a conflicting terminal status fails.
func (g *Graph) MarkSettled(childAgreementHash string) error {
	return g.markTerminal(childAgreementHash, StatusSettled)
}

// MarkRevoked transitions a delegation to revoked, idempotently.
func (g *Graph) MarkRevoked(childAgreementHash string) error {
	return g.markTerminal(childAgreementHash, StatusRevoked)
}

func (g *Graph) markTerminal(childAgreementHash, status string) error {
	d, ok := g.byChild[childAgreementHash]
	if !ok {
		return ErrUnknownDelegation
	}
	switch d.Status {
	case StatusActive:
		d.Status = status
		return nil
	case status:
		return nil
	default:
		return ErrTerminalConflict
	}
}

// Counts returns the per-status totals. active+settled+revoked always equals
// the number of delegations in the graph.
func (g *Graph) Counts() (active, settled, revoked int) {
	for _, d := range g.byChild {
		switch d.Status {
		case StatusActive:
			active++
		case StatusSettled:
			settled++
		case StatusRevoked:
			revoked++
		}
	}
	return active, settled, revoked
}

func (g *Graph) Len() int { return len(g.byChild) }
