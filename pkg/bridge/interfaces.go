package bridge

import (
	"context"
	"math/big"
	"time"

	"github.com/claimbridge/claimbridge/pkg/types"
)

// Verifier fetches the external facts a claim's verdict depends on.
type Verifier interface {
	Snapshot(ctx context.Context, kind types.ClaimKind, subject string) (*types.VerificationSnapshot, error)
}

// Submitter writes confirmed decisions back to the ledger.
type Submitter interface {
	Submit(ctx context.Context, req *types.ClaimRequest, decision *types.Decision) (*types.SubmitReceipt, error)
	IsClaimConfirmed(ctx context.Context, kind types.ClaimKind, claimID *big.Int) (bool, error)
}

// Monitoring gives the processor access to its metric labeler.
type Monitoring interface {
	Metrics() MetricLabeler
}

// MetricLabeler records processor metrics with contextual labels.
type MetricLabeler interface {
	With(keyValues ...string) MetricLabeler
	IncrementClaimsReceived(ctx context.Context)
	IncrementClaimsConfirmed(ctx context.Context)
	IncrementClaimsRejected(ctx context.Context)
	IncrementClaimsFailed(ctx context.Context)
	IncrementDuplicatesDiscarded(ctx context.Context)
	IncrementSubmitRetries(ctx context.Context)
	RecordProcessingDuration(ctx context.Context, d time.Duration)
}
