// Package types holds the domain model shared by the listener, the
// claim processor and the ledger gateway.
package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// ClaimKind identifies the kind of on-chain request the bridge has to
// verify. The numeric values match the kind enum used by the ledger
// contract's job registry.
type ClaimKind uint8

const (
	KindRegistration ClaimKind = iota
	KindRelease
	KindPullRequest
	KindDeposit
)

// String returns the string representation of ClaimKind.
func (k ClaimKind) String() string {
	switch k {
	case KindRegistration:
		return "Registration"
	case KindRelease:
		return "Release"
	case KindPullRequest:
		return "PullRequest"
	case KindDeposit:
		return "Deposit"
	default:
		return fmt.Sprintf("ClaimKind(%d)", uint8(k))
	}
}

// RequiresSubmission reports whether a confirmed decision for this kind
// is written back to the ledger. Deposit notices are informational and
// have no confirmation entry point.
func (k ClaimKind) RequiresSubmission() bool {
	return k != KindDeposit
}

// ClaimKey uniquely identifies a claim across duplicate event
// deliveries. The ledger assigns claim ids per kind, so the pair is the
// de-duplication key.
type ClaimKey struct {
	Kind    ClaimKind
	ClaimID string
}

func (k ClaimKey) String() string {
	return fmt.Sprintf("%s/%s", k.Kind, k.ClaimID)
}

// ClaimRequest is one decoded ledger event asking the bridge to verify
// a claim. Immutable once decoded.
type ClaimRequest struct {
	Kind    ClaimKind
	ClaimID *big.Int
	// Subject is the external-service identifier the claim is about: a
	// user login for registrations, an issue node id for releases and
	// deposits, a pull-request node id for PR claims.
	Subject string
	// Actor is the chain address that emitted the request.
	Actor common.Address
	// Amount is only set for deposit notices.
	Amount      *big.Int
	BlockNumber uint64
	TxHash      common.Hash
	Raw         coretypes.Log
}

// Key returns the de-duplication key for this request. Registration
// requests carry no numeric claim id, so the user login is the key;
// deposit notices are keyed by their log position since the same issue
// can receive many deposits.
func (c *ClaimRequest) Key() ClaimKey {
	switch {
	case c.ClaimID != nil:
		return ClaimKey{Kind: c.Kind, ClaimID: c.ClaimID.String()}
	case c.Kind == KindDeposit:
		return ClaimKey{Kind: c.Kind, ClaimID: fmt.Sprintf("%s:%d", c.TxHash, c.Raw.Index)}
	default:
		return ClaimKey{Kind: c.Kind, ClaimID: c.Subject}
	}
}

// VerificationSnapshot is the point-in-time set of facts fetched from
// the external service for one claim. Snapshots are never persisted or
// reused across claims; every claim re-fetches to avoid staleness.
type VerificationSnapshot struct {
	Subject   string
	FetchedAt time.Time

	// Registration facts.
	UserLogin     string
	UserCreatedAt time.Time
	UserFollowers int

	// Release facts.
	IssueClosed bool

	// Pull-request facts.
	PRMerged        bool
	PRMergedAt      time.Time
	PRAuthorLogin   string
	AuthorCreatedAt time.Time
	AuthorFollowers int
	RepoCreatedAt   time.Time
	RepoStars       int
	RepoForks       int
	RepoOwnerLogin  string
}

// Verdict is the outcome of verifying a claim.
type Verdict uint8

const (
	VerdictConfirmed Verdict = iota
	VerdictRejected
)

// String returns the string representation of Verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictConfirmed:
		return "Confirmed"
	case VerdictRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("Verdict(%d)", uint8(v))
	}
}

// Decision is the payload the ledger gateway writes back on-chain for a
// confirmed claim.
type Decision struct {
	Kind        ClaimKind
	ClaimID     *big.Int
	Subject     string
	Actor       common.Address
	Verdict     Verdict
	Score       *uint8 // set for pull-request claims only
	SubmittedAt time.Time
}

// SubmitReceipt reports the on-chain result of a submitted decision.
type SubmitReceipt struct {
	TxHash  common.Hash
	GasUsed uint64
}

// JobRegistry maps claim kinds to the oracle job identifiers the ledger
// routes confirmation calls through. Read-only to the bridge.
type JobRegistry map[ClaimKind][32]byte
