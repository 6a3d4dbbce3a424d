package bridge_test

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/claimbridge/claimbridge/internal/monitoring"
	"github.com/claimbridge/claimbridge/pkg/bridge"
	"github.com/claimbridge/claimbridge/pkg/types"
)

type fakeVerifier struct {
	mu       sync.Mutex
	calls    int
	snapshot *types.VerificationSnapshot
	// errs are returned in order before snapshot wins.
	errs []error
}

func (f *fakeVerifier) Snapshot(_ context.Context, _ types.ClaimKind, subject string) (*types.VerificationSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if f.snapshot == nil {
		return &types.VerificationSnapshot{Subject: subject, FetchedAt: time.Now()}, nil
	}
	snap := *f.snapshot
	snap.Subject = subject
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now()
	}
	return &snap, nil
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSubmitter struct {
	mu        sync.Mutex
	attempts  int
	decisions []*types.Decision
	confirmed bool
	errs      []error
	// confirmOnErr marks the claim confirmed alongside each returned
	// error, like a transaction that mines after its receipt wait
	// timed out.
	confirmOnErr bool
}

func (f *fakeSubmitter) Submit(_ context.Context, _ *types.ClaimRequest, decision *types.Decision) (*types.SubmitReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if f.confirmOnErr {
			f.confirmed = true
		}
		return nil, err
	}
	f.decisions = append(f.decisions, decision)
	return &types.SubmitReceipt{TxHash: common.HexToHash("0xbeef"), GasUsed: 21000}, nil
}

func (f *fakeSubmitter) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeSubmitter) IsClaimConfirmed(context.Context, types.ClaimKind, *big.Int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmed, nil
}

func (f *fakeSubmitter) submitted() []*types.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Decision(nil), f.decisions...)
}

func fastConfig() bridge.ProcessorConfig {
	return bridge.ProcessorConfig{
		Workers:        4,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		ShutdownGrace:  2 * time.Second,
	}
}

// The dedup cache janitor only exits when the cache is collected, and
// importing ants starts its package-level default pool's daemon
// goroutines at init, so leak checks ignore them.
func verifyNoLeaks(t *testing.T) {
	t.Helper()
	goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
		goleak.IgnoreTopFunction("github.com/panjf2000/ants/v2.(*poolCommon).purgeStaleWorkers"),
		goleak.IgnoreTopFunction("github.com/panjf2000/ants/v2.(*poolCommon).ticktock"))
}

func startProcessor(t *testing.T, config bridge.ProcessorConfig, verifier bridge.Verifier, submitter bridge.Submitter) (*bridge.ClaimProcessor, chan *types.ClaimRequest) {
	t.Helper()
	requests := make(chan *types.ClaimRequest, 16)
	p, err := bridge.NewClaimProcessor(config, requests, verifier, submitter,
		monitoring.NewNoopBridgeMonitoring(), logger.Test(t))
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))
	t.Cleanup(func() { verifyNoLeaks(t) })
	t.Cleanup(func() { require.NoError(t, p.Stop()) })
	return p, requests
}

func registrationRequest(userID string) *types.ClaimRequest {
	return &types.ClaimRequest{
		Kind:    types.KindRegistration,
		Subject: userID,
		Actor:   common.HexToAddress("0x01"),
	}
}

func waitForStats(t *testing.T, p *bridge.ClaimProcessor, cond func(bridge.Stats) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(p.Stats()) },
		5*time.Second, 5*time.Millisecond, "stats: %+v", p.Stats())
}

func TestProcessorConfirmsRegistration(t *testing.T) {
	verifier := &fakeVerifier{snapshot: &types.VerificationSnapshot{UserLogin: "octocat"}}
	submitter := &fakeSubmitter{}
	p, requests := startProcessor(t, fastConfig(), verifier, submitter)

	requests <- registrationRequest("octocat")
	waitForStats(t, p, func(s bridge.Stats) bool { return s.Confirmed == 1 })

	decisions := submitter.submitted()
	require.Len(t, decisions, 1)
	require.Equal(t, types.VerdictConfirmed, decisions[0].Verdict)
	require.Nil(t, decisions[0].Score, "registrations carry no score")
}

func TestProcessorDiscardsDuplicates(t *testing.T) {
	verifier := &fakeVerifier{}
	submitter := &fakeSubmitter{}
	p, requests := startProcessor(t, fastConfig(), verifier, submitter)

	requests <- registrationRequest("octocat")
	requests <- registrationRequest("octocat")
	requests <- registrationRequest("octocat")

	waitForStats(t, p, func(s bridge.Stats) bool {
		return s.Confirmed == 1 && s.Duplicates == 2
	})
	require.Len(t, submitter.submitted(), 1, "duplicates must never reach submission")
}

func TestProcessorRejectsMissingSubject(t *testing.T) {
	verifier := &fakeVerifier{errs: []error{fmt.Errorf("user gone: %w", types.ErrSubjectNotFound)}}
	submitter := &fakeSubmitter{}
	p, requests := startProcessor(t, fastConfig(), verifier, submitter)

	requests <- registrationRequest("ghost")
	waitForStats(t, p, func(s bridge.Stats) bool { return s.Rejected == 1 })

	require.Empty(t, submitter.submitted())
	require.Equal(t, 1, verifier.callCount(), "not-found is permanent, no retries")
}

func TestProcessorRejectsSelfClaimBeforeScoring(t *testing.T) {
	verifier := &fakeVerifier{snapshot: &types.VerificationSnapshot{
		PRMerged:        true,
		PRMergedAt:      time.Now().Add(-time.Hour),
		PRAuthorLogin:   "maintainer",
		RepoOwnerLogin:  "maintainer",
		AuthorFollowers: 5000,
	}}
	submitter := &fakeSubmitter{}
	p, requests := startProcessor(t, fastConfig(), verifier, submitter)

	requests <- &types.ClaimRequest{
		Kind:    types.KindPullRequest,
		ClaimID: big.NewInt(1),
		Subject: "PR_self",
	}
	waitForStats(t, p, func(s bridge.Stats) bool { return s.Rejected == 1 })
	require.Empty(t, submitter.submitted())
}

func TestProcessorScoresPullRequests(t *testing.T) {
	now := time.Now()
	verifier := &fakeVerifier{snapshot: &types.VerificationSnapshot{
		FetchedAt:       now,
		PRMerged:        true,
		PRMergedAt:      now.Add(-time.Hour),
		PRAuthorLogin:   "contributor",
		RepoOwnerLogin:  "maintainer",
		AuthorCreatedAt: now.AddDate(-12, 0, 0),
		AuthorFollowers: 2000,
		RepoCreatedAt:   now.AddDate(-8, 0, 0),
		RepoStars:       5000,
		RepoForks:       800,
	}}
	submitter := &fakeSubmitter{}
	p, requests := startProcessor(t, fastConfig(), verifier, submitter)

	requests <- &types.ClaimRequest{
		Kind:    types.KindPullRequest,
		ClaimID: big.NewInt(7),
		Subject: "PR_abc",
	}
	waitForStats(t, p, func(s bridge.Stats) bool { return s.Confirmed == 1 })

	decisions := submitter.submitted()
	require.Len(t, decisions, 1)
	require.NotNil(t, decisions[0].Score)
	require.Equal(t, uint8(100), *decisions[0].Score, "every factor is top tier")
}

func TestProcessorRetriesTransientVerification(t *testing.T) {
	verifier := &fakeVerifier{
		snapshot: &types.VerificationSnapshot{UserLogin: "octocat"},
		errs: []error{
			fmt.Errorf("502: %w", types.ErrServiceUnavailable),
			fmt.Errorf("timeout: %w", types.ErrTransientNetwork),
		},
	}
	submitter := &fakeSubmitter{}
	p, requests := startProcessor(t, fastConfig(), verifier, submitter)

	requests <- registrationRequest("octocat")
	waitForStats(t, p, func(s bridge.Stats) bool { return s.Confirmed == 1 })
	require.Equal(t, 3, verifier.callCount())
}

func TestProcessorFailsAfterSubmitRetriesExhausted(t *testing.T) {
	transient := fmt.Errorf("rpc down: %w", types.ErrTransientNetwork)
	verifier := &fakeVerifier{snapshot: &types.VerificationSnapshot{UserLogin: "octocat"}}
	submitter := &fakeSubmitter{errs: []error{transient, transient, transient, transient, transient, transient}}
	p, requests := startProcessor(t, fastConfig(), verifier, submitter)

	requests <- registrationRequest("octocat")
	waitForStats(t, p, func(s bridge.Stats) bool { return s.Failed == 1 })
	require.Empty(t, submitter.submitted())
}

func TestProcessorSkipsAlreadyConfirmedClaims(t *testing.T) {
	verifier := &fakeVerifier{snapshot: &types.VerificationSnapshot{IssueClosed: true}}
	submitter := &fakeSubmitter{confirmed: true}
	p, requests := startProcessor(t, fastConfig(), verifier, submitter)

	requests <- &types.ClaimRequest{
		Kind:    types.KindRelease,
		ClaimID: big.NewInt(9),
		Subject: "I_abc",
	}
	waitForStats(t, p, func(s bridge.Stats) bool { return s.Confirmed == 1 })
	require.Empty(t, submitter.submitted(), "ledger already holds the confirmation")
}

func TestProcessorReceiptTimeoutNeverDoubleSubmits(t *testing.T) {
	verifier := &fakeVerifier{snapshot: &types.VerificationSnapshot{IssueClosed: true}}
	submitter := &fakeSubmitter{
		errs:         []error{fmt.Errorf("timed out waiting for receipt: %w", types.ErrTransientNetwork)},
		confirmOnErr: true,
	}
	p, requests := startProcessor(t, fastConfig(), verifier, submitter)

	requests <- &types.ClaimRequest{
		Kind:    types.KindRelease,
		ClaimID: big.NewInt(11),
		Subject: "I_mined",
	}
	waitForStats(t, p, func(s bridge.Stats) bool { return s.Confirmed == 1 })

	require.Equal(t, 1, submitter.attemptCount(), "retry must re-check the ledger, not resend")
	require.Empty(t, submitter.submitted())
}

func TestProcessorRejectsOpenIssueRelease(t *testing.T) {
	verifier := &fakeVerifier{snapshot: &types.VerificationSnapshot{IssueClosed: false}}
	submitter := &fakeSubmitter{}
	p, requests := startProcessor(t, fastConfig(), verifier, submitter)

	requests <- &types.ClaimRequest{
		Kind:    types.KindRelease,
		ClaimID: big.NewInt(10),
		Subject: "I_open",
	}
	waitForStats(t, p, func(s bridge.Stats) bool { return s.Rejected == 1 })
	require.Empty(t, submitter.submitted())
}

func TestProcessorRecordsDepositsWithoutSubmission(t *testing.T) {
	verifier := &fakeVerifier{}
	submitter := &fakeSubmitter{}
	p, requests := startProcessor(t, fastConfig(), verifier, submitter)

	requests <- &types.ClaimRequest{
		Kind:    types.KindDeposit,
		Subject: "I_abc",
		Actor:   common.HexToAddress("0x02"),
		Amount:  big.NewInt(1_000_000),
		TxHash:  common.HexToHash("0xcc"),
	}
	waitForStats(t, p, func(s bridge.Stats) bool { return s.Confirmed == 1 })

	require.Empty(t, submitter.submitted())
	require.Zero(t, verifier.callCount(), "deposit notices skip verification")
}

func TestProcessorNonceConflictResubmitsImmediately(t *testing.T) {
	verifier := &fakeVerifier{snapshot: &types.VerificationSnapshot{UserLogin: "octocat"}}
	submitter := &fakeSubmitter{errs: []error{
		fmt.Errorf("nonce race: %w", types.ErrNonceConflict),
		fmt.Errorf("nonce race: %w", types.ErrNonceConflict),
	}}
	p, requests := startProcessor(t, fastConfig(), verifier, submitter)

	requests <- registrationRequest("octocat")
	waitForStats(t, p, func(s bridge.Stats) bool { return s.Confirmed == 1 })
	require.Len(t, submitter.submitted(), 1)
}

func TestProcessorStopDrainsInFlight(t *testing.T) {
	defer verifyNoLeaks(t)

	verifier := &fakeVerifier{snapshot: &types.VerificationSnapshot{UserLogin: "octocat"}}
	submitter := &fakeSubmitter{}
	requests := make(chan *types.ClaimRequest, 16)
	p, err := bridge.NewClaimProcessor(fastConfig(), requests, verifier, submitter,
		monitoring.NewNoopBridgeMonitoring(), logger.Test(t))
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))

	for i := 0; i < 5; i++ {
		requests <- registrationRequest(fmt.Sprintf("user-%d", i))
	}
	waitForStats(t, p, func(s bridge.Stats) bool { return s.Received == 5 })

	require.NoError(t, p.Stop())
	require.Equal(t, uint64(5), p.Stats().Confirmed, "accepted claims finish during the grace period")
}
