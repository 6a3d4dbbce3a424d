// Package bridge orchestrates claim processing: de-duplication, an
// explicit per-claim state machine, verification with bounded retries,
// scoring and on-chain submission over a worker pool.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/patrickmn/go-cache"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/claimbridge/claimbridge/pkg/scoring"
	"github.com/claimbridge/claimbridge/pkg/types"
)

const (
	// maxNonceRefreshes bounds immediate resends after a nonce race.
	// These do not count against the backoff budget since the gateway
	// refetches the pending nonce on every call.
	maxNonceRefreshes = 3
)

// ProcessorConfig holds the claim processor configuration.
type ProcessorConfig struct {
	// Workers is the pool size (default: 8).
	Workers int
	// MaxRetries per retryable operation (default: 5).
	MaxRetries int
	// RetryBaseDelay is the first backoff step (default: 1s).
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff (default: 30s).
	RetryMaxDelay time.Duration
	// DedupTTL is how long claim keys are remembered (default: 1h).
	DedupTTL time.Duration
	// MergeRecencyWindow rejects pull requests merged longer ago than
	// this (default: 72h).
	MergeRecencyWindow time.Duration
	// ShutdownGrace bounds waiting for in-flight claims on Stop
	// (default: 30s).
	ShutdownGrace time.Duration
}

func (c *ProcessorConfig) setDefaults() {
	if c.Workers == 0 {
		c.Workers = 8
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.DedupTTL == 0 {
		c.DedupTTL = time.Hour
	}
	if c.MergeRecencyWindow == 0 {
		c.MergeRecencyWindow = 72 * time.Hour
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 30 * time.Second
	}
}

// Stats is a point-in-time snapshot of processor counters.
type Stats struct {
	Received   uint64 `json:"received"`
	Confirmed  uint64 `json:"confirmed"`
	Rejected   uint64 `json:"rejected"`
	Failed     uint64 `json:"failed"`
	Duplicates uint64 `json:"duplicates"`
	InFlight   int64  `json:"inFlight"`
}

// ClaimProcessor consumes claim requests and drives each one through
// the lifecycle state machine on a worker pool.
type ClaimProcessor struct {
	lggr       logger.Logger
	config     ProcessorConfig
	verifier   Verifier
	submitter  Submitter
	monitoring Monitoring
	requests   <-chan *types.ClaimRequest

	pool *ants.Pool
	seen *cache.Cache

	received   atomic.Uint64
	confirmed  atomic.Uint64
	rejected   atomic.Uint64
	failed     atomic.Uint64
	duplicates atomic.Uint64
	inFlight   atomic.Int64

	stopCh    chan struct{}
	loopWg    sync.WaitGroup
	claimWg   sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewClaimProcessor creates a processor consuming from the given
// request channel.
func NewClaimProcessor(
	config ProcessorConfig,
	requests <-chan *types.ClaimRequest,
	verifier Verifier,
	submitter Submitter,
	monitoring Monitoring,
	lggr logger.Logger,
) (*ClaimProcessor, error) {
	if requests == nil {
		return nil, errors.New("request channel is required")
	}
	if verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if monitoring == nil {
		return nil, errors.New("monitoring is required")
	}
	config.setDefaults()

	pool, err := ants.NewPool(config.Workers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &ClaimProcessor{
		lggr:       logger.Named(lggr, "ClaimProcessor"),
		config:     config,
		verifier:   verifier,
		submitter:  submitter,
		monitoring: monitoring,
		requests:   requests,
		pool:       pool,
		seen:       cache.New(config.DedupTTL, config.DedupTTL),
		stopCh:     make(chan struct{}),
	}, nil
}

// Start begins consuming claim requests.
func (p *ClaimProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return nil
	}

	p.lggr.Infow("🔄 Starting ClaimProcessor", "workers", p.config.Workers)
	p.isRunning = true
	p.loopWg.Add(1)
	go p.consumeLoop(ctx)
	return nil
}

// Stop drains the processor: no new claims are accepted, and in-flight
// claims get the configured grace period to finish.
func (p *ClaimProcessor) Stop() error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	close(p.stopCh)
	p.mu.Unlock()

	p.loopWg.Wait()

	done := make(chan struct{})
	go func() {
		p.claimWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.lggr.Infow("🛑 ClaimProcessor stopped, all claims drained")
	case <-time.After(p.config.ShutdownGrace):
		p.lggr.Warnw("ClaimProcessor stopped with claims still in flight",
			"inFlight", p.inFlight.Load(),
			"grace", p.config.ShutdownGrace)
	}

	// ReleaseTimeout also stops the pool's purge and ticktock
	// goroutines, which a plain Release leaves running.
	if err := p.pool.ReleaseTimeout(p.config.ShutdownGrace); err != nil {
		p.lggr.Warnw("Worker pool released with workers still running", "error", err)
	}
	return nil
}

// Stats returns the current counters.
func (p *ClaimProcessor) Stats() Stats {
	return Stats{
		Received:   p.received.Load(),
		Confirmed:  p.confirmed.Load(),
		Rejected:   p.rejected.Load(),
		Failed:     p.failed.Load(),
		Duplicates: p.duplicates.Load(),
		InFlight:   p.inFlight.Load(),
	}
}

func (p *ClaimProcessor) consumeLoop(ctx context.Context) {
	defer p.loopWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case request, ok := <-p.requests:
			if !ok {
				return
			}
			p.accept(ctx, request)
		}
	}
}

// accept runs the de-duplication gate and hands fresh claims to the
// pool. The gate runs on the consume loop so two duplicate events can
// never race past it.
func (p *ClaimProcessor) accept(ctx context.Context, request *types.ClaimRequest) {
	p.received.Add(1)
	p.monitoring.Metrics().IncrementClaimsReceived(ctx)

	key := request.Key()
	if err := p.seen.Add(key.String(), struct{}{}, cache.DefaultExpiration); err != nil {
		p.duplicates.Add(1)
		p.monitoring.Metrics().IncrementDuplicatesDiscarded(ctx)
		p.lggr.Infow("Duplicate claim discarded", "key", key)
		return
	}

	p.claimWg.Add(1)
	p.inFlight.Add(1)
	if err := p.pool.Submit(func() {
		defer p.claimWg.Done()
		defer p.inFlight.Add(-1)
		p.process(ctx, request)
	}); err != nil {
		p.claimWg.Done()
		p.inFlight.Add(-1)
		// The key stays in the cache so a redelivery of the same event
		// is still recognized; the claim itself is lost and alerted.
		p.failed.Add(1)
		p.lggr.Errorw("ALERT: failed to enqueue claim", "key", key, "error", err)
	}
}

// claimRun is the mutable per-claim processing context.
type claimRun struct {
	request  *types.ClaimRequest
	lggr     logger.Logger
	snapshot *types.VerificationSnapshot
	score    *uint8
	// rejectReason is set when verification decides against the claim.
	rejectReason string
	// failure is the terminal error for alerting.
	failure error
	receipt *types.SubmitReceipt
}

// process drives one claim from Received to a terminal state.
func (p *ClaimProcessor) process(ctx context.Context, request *types.ClaimRequest) {
	started := time.Now()
	run := &claimRun{
		request: request,
		lggr: logger.With(p.lggr,
			"correlationId", uuid.NewString(),
			"kind", request.Kind.String(),
			"claimId", request.Key().ClaimID,
			"subject", request.Subject,
		),
	}
	run.lggr.Infow("Processing claim", "block", request.BlockNumber, "txHash", request.TxHash)

	state := StateReceived
	event := EventDequeued
	for {
		next, effect, err := Transition(state, event)
		if err != nil {
			run.lggr.Errorw("ALERT: claim lifecycle error", "state", state, "event", event, "error", err)
			p.failed.Add(1)
			p.monitoring.Metrics().IncrementClaimsFailed(ctx)
			return
		}
		state = next

		if state.Terminal() {
			p.finish(ctx, run, state, effect)
			p.monitoring.Metrics().RecordProcessingDuration(ctx, time.Since(started))
			return
		}
		event = p.perform(ctx, run, effect)
	}
}

// perform executes a non-terminal effect and reports what happened as
// the next lifecycle event.
func (p *ClaimProcessor) perform(ctx context.Context, run *claimRun, effect Effect) Event {
	switch effect {
	case EffectVerify:
		return p.verify(ctx, run)
	case EffectScore:
		return p.scoreClaim(run)
	case EffectSubmit:
		return p.submit(ctx, run)
	default:
		run.failure = fmt.Errorf("unexpected non-terminal effect %d", effect)
		return EventVerificationFailed
	}
}

// finish performs the terminal effect and bumps counters.
func (p *ClaimProcessor) finish(ctx context.Context, run *claimRun, state State, effect Effect) {
	switch effect {
	case EffectRecordRejection:
		p.rejected.Add(1)
		p.monitoring.Metrics().IncrementClaimsRejected(ctx)
		run.lggr.Infow("Claim rejected", "reason", run.rejectReason)
	case EffectRecordNotice:
		p.confirmed.Add(1)
		p.monitoring.Metrics().IncrementClaimsConfirmed(ctx)
		run.lggr.Infow("Deposit recorded",
			"from", run.request.Actor,
			"amount", run.request.Amount)
	case EffectAlert:
		p.failed.Add(1)
		p.monitoring.Metrics().IncrementClaimsFailed(ctx)
		run.lggr.Errorw("ALERT: claim processing failed", "error", run.failure)
	default:
		p.confirmed.Add(1)
		p.monitoring.Metrics().IncrementClaimsConfirmed(ctx)
		fields := []any{"state", state}
		if run.receipt != nil {
			fields = append(fields, "txHash", run.receipt.TxHash, "gasUsed", run.receipt.GasUsed)
		}
		run.lggr.Infow("Claim confirmed", fields...)
	}
}

// verify fetches the snapshot with retries, then evaluates eligibility.
func (p *ClaimProcessor) verify(ctx context.Context, run *claimRun) Event {
	if run.request.Kind == types.KindDeposit {
		return EventNoSubmissionRequired
	}

	snapshot, err := p.fetchSnapshot(ctx, run)
	if err != nil {
		if errors.Is(err, types.ErrSubjectNotFound) {
			run.rejectReason = err.Error()
			return EventSubjectNotFound
		}
		run.failure = err
		return EventVerificationFailed
	}
	run.snapshot = snapshot

	switch run.request.Kind {
	case types.KindRegistration:
		return EventEligible
	case types.KindRelease:
		if !snapshot.IssueClosed {
			run.rejectReason = "issue is still open"
			return EventIneligible
		}
		return EventEligible
	case types.KindPullRequest:
		if reason := p.pullRequestIneligibility(snapshot); reason != "" {
			run.rejectReason = reason
			return EventIneligible
		}
		return EventScoreRequired
	default:
		run.failure = fmt.Errorf("claim kind %s cannot be verified", run.request.Kind)
		return EventVerificationFailed
	}
}

// pullRequestIneligibility returns a non-empty reason when the PR fails
// a precondition. Preconditions run before scoring so rejected claims
// never consume a score.
func (p *ClaimProcessor) pullRequestIneligibility(snapshot *types.VerificationSnapshot) string {
	if !snapshot.PRMerged {
		return "pull request is not merged"
	}
	if snapshot.PRAuthorLogin == "" {
		return "pull request author is unknown"
	}
	if snapshot.PRAuthorLogin == snapshot.RepoOwnerLogin {
		return "author owns the repository"
	}
	if snapshot.FetchedAt.Sub(snapshot.PRMergedAt) > p.config.MergeRecencyWindow {
		return fmt.Sprintf("merged more than %s ago", p.config.MergeRecencyWindow)
	}
	return ""
}

func (p *ClaimProcessor) fetchSnapshot(ctx context.Context, run *claimRun) (*types.VerificationSnapshot, error) {
	retry := retrypolicy.NewBuilder[*types.VerificationSnapshot]().
		HandleIf(func(_ *types.VerificationSnapshot, err error) bool {
			return types.IsRetryable(err)
		}).
		WithMaxRetries(p.config.MaxRetries).
		WithBackoff(p.config.RetryBaseDelay, p.config.RetryMaxDelay).
		WithJitterFactor(0.25).
		OnRetry(func(e failsafe.ExecutionEvent[*types.VerificationSnapshot]) {
			run.lggr.Warnw("Retrying verification", "attempt", e.Attempts(), "error", e.LastError())
		}).
		OnRetriesExceeded(func(e failsafe.ExecutionEvent[*types.VerificationSnapshot]) {
			run.lggr.Warnw("Verification retries exceeded", "maxRetries", p.config.MaxRetries, "error", e.LastError())
		}).
		Build()

	return failsafe.With(retry).
		WithContext(ctx).
		Get(func() (*types.VerificationSnapshot, error) {
			return p.verifier.Snapshot(ctx, run.request.Kind, run.request.Subject)
		})
}

func (p *ClaimProcessor) scoreClaim(run *claimRun) Event {
	factors := scoring.FactorsFromSnapshot(run.snapshot, time.Now())
	score := uint8(scoring.Score(factors))
	run.score = &score
	run.lggr.Infow("Claim scored", "score", score, "factors", factors)
	return EventScored
}

// errAlreadyConfirmed aborts the submission retry loop when the ledger
// already holds the confirmation.
var errAlreadyConfirmed = errors.New("claim already confirmed on ledger")

// submit sends the confirmation with retries. Nonce conflicts are
// resent immediately with a fresh nonce and do not consume backoff
// attempts.
func (p *ClaimProcessor) submit(ctx context.Context, run *claimRun) Event {
	decision := &types.Decision{
		Kind:        run.request.Kind,
		ClaimID:     run.request.ClaimID,
		Subject:     run.request.Subject,
		Actor:       run.request.Actor,
		Verdict:     types.VerdictConfirmed,
		Score:       run.score,
		SubmittedAt: time.Now(),
	}

	retry := retrypolicy.NewBuilder[*types.SubmitReceipt]().
		HandleIf(func(_ *types.SubmitReceipt, err error) bool {
			return types.IsRetryable(err)
		}).
		WithMaxRetries(p.config.MaxRetries).
		WithBackoff(p.config.RetryBaseDelay, p.config.RetryMaxDelay).
		WithJitterFactor(0.25).
		OnRetry(func(e failsafe.ExecutionEvent[*types.SubmitReceipt]) {
			p.monitoring.Metrics().IncrementSubmitRetries(ctx)
			run.lggr.Warnw("Retrying submission", "attempt", e.Attempts(), "error", e.LastError())
		}).
		Build()

	receipt, err := failsafe.With(retry).
		WithContext(ctx).
		Get(func() (*types.SubmitReceipt, error) {
			return p.submitOnce(ctx, run, decision)
		})
	if err != nil {
		if errors.Is(err, errAlreadyConfirmed) {
			run.lggr.Infow("Claim already confirmed on ledger")
			return EventAlreadyConfirmed
		}
		run.failure = err
		return EventSubmitFailed
	}

	run.receipt = receipt
	return EventTxMined
}

// submitOnce sends one confirmation, absorbing nonce races internally.
// Every attempt first asks the ledger whether the claim already landed:
// a previous send may have mined after its receipt wait timed out, and
// a blind resend would confirm the claim twice. Claims without an id
// (registrations, deposits) have no confirmation read, so for those the
// dedup cache is the only replay guard and it does not survive a
// restart.
func (p *ClaimProcessor) submitOnce(ctx context.Context, run *claimRun, decision *types.Decision) (*types.SubmitReceipt, error) {
	if run.request.ClaimID != nil {
		confirmed, err := p.submitter.IsClaimConfirmed(ctx, run.request.Kind, run.request.ClaimID)
		if err != nil {
			run.lggr.Warnw("Failed to read confirmation state, submitting anyway", "error", err)
		} else if confirmed {
			return nil, errAlreadyConfirmed
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxNonceRefreshes; attempt++ {
		receipt, err := p.submitter.Submit(ctx, run.request, decision)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, types.ErrNonceConflict) {
			return nil, err
		}
		lastErr = err
		run.lggr.Warnw("Nonce conflict, refreshing and resending", "attempt", attempt+1)
	}
	return nil, fmt.Errorf("nonce refresh budget exhausted: %w", lastErr)
}
