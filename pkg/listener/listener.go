// Package listener polls the ledger's event log for claim request
// events, decodes them into typed requests and hands them to the claim
// processor over a channel. The poll position survives restarts through
// a persisted checkpoint.
package listener

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/claimbridge/claimbridge/pkg/ledger"
	"github.com/claimbridge/claimbridge/pkg/types"
)

const (
	// DefaultPollInterval between log queries.
	DefaultPollInterval = 3 * time.Second

	// MaxBlockRange caps a single FilterLogs query so a long outage
	// does not produce one enormous request on restart.
	MaxBlockRange = 2000

	requestChannelSize = 100
	rpcTimeout         = 5 * time.Second
)

// LogBackend is the chain client surface the listener needs. Satisfied
// by *ethclient.Client.
type LogBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]coretypes.Log, error)
}

// EventListener polls for claim request events from a checkpointed
// block height.
type EventListener struct {
	lggr         logger.Logger
	backend      LogBackend
	checkpoints  CheckpointStore
	contractAddr common.Address
	topics       []common.Hash
	pollInterval time.Duration

	requestCh chan *types.ClaimRequest

	lastProcessedBlock uint64

	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
}

// Config holds the listener configuration.
type Config struct {
	ContractAddress common.Address
	PollInterval    time.Duration
}

// NewEventListener creates a listener for the bridge contract's request
// events.
func NewEventListener(config Config, backend LogBackend, checkpoints CheckpointStore, lggr logger.Logger) *EventListener {
	pollInterval := config.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}
	return &EventListener{
		lggr:         logger.Named(lggr, "EventListener"),
		backend:      backend,
		checkpoints:  checkpoints,
		contractAddr: config.ContractAddress,
		topics:       ledger.EventTopics(),
		pollInterval: pollInterval,
		requestCh:    make(chan *types.ClaimRequest, requestChannelSize),
		stopCh:       make(chan struct{}),
	}
}

// Requests returns the channel carrying decoded claim requests. Closed
// by Stop.
func (l *EventListener) Requests() <-chan *types.ClaimRequest {
	return l.requestCh
}

// Start begins polling. Resumes from the persisted checkpoint; if none
// exists it starts from the current head so historical events are not
// replayed on a fresh deployment.
func (l *EventListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isRunning {
		return nil
	}

	startBlock, err := l.initializeStartBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize start block: %w", err)
	}
	l.lastProcessedBlock = startBlock

	l.lggr.Infow("🔄 Starting EventListener",
		"contract", l.contractAddr,
		"startBlock", startBlock,
		"pollInterval", l.pollInterval)

	l.isRunning = true
	l.wg.Add(1)
	go l.pollLoop(ctx)

	return nil
}

// Stop halts polling and closes the request channel.
func (l *EventListener) Stop() error {
	l.mu.Lock()
	if !l.isRunning {
		l.mu.Unlock()
		return nil
	}
	l.isRunning = false
	close(l.stopCh)
	l.mu.Unlock()

	// The poll goroutine takes the mutex, so wait outside of it.
	l.wg.Wait()
	close(l.requestCh)

	l.lggr.Infow("🛑 EventListener stopped")
	return nil
}

// HealthCheck reports whether the chain client is reachable.
func (l *EventListener) HealthCheck(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.isRunning {
		return nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	if _, err := l.backend.BlockNumber(checkCtx); err != nil {
		return fmt.Errorf("chain client unreachable: %w", err)
	}
	return nil
}

// LastProcessedBlock returns the most recent block the listener has
// fully decoded.
func (l *EventListener) LastProcessedBlock() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastProcessedBlock
}

func (l *EventListener) initializeStartBlock(ctx context.Context) (uint64, error) {
	checkpoint, err := l.checkpoints.ReadCheckpoint(ctx)
	if err != nil {
		return 0, err
	}
	if checkpoint > 0 {
		l.lggr.Infow("Resuming from checkpoint", "checkpointBlock", checkpoint)
		return checkpoint, nil
	}

	headCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	head, err := l.backend.BlockNumber(headCtx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain head: %w", err)
	}
	l.lggr.Infow("No checkpoint found, starting from head", "headBlock", head)
	return head, nil
}

func (l *EventListener) pollLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.pollCycle(ctx)
		}
	}
}

// pollCycle runs one from/to log query and publishes decoded requests.
// A failed cycle leaves the checkpoint untouched, so the next cycle
// retries the same range.
func (l *EventListener) pollCycle(ctx context.Context) {
	headCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	head, err := l.backend.BlockNumber(headCtx)
	cancel()
	if err != nil {
		l.lggr.Warnw("Failed to get latest block", "error", err)
		return
	}

	l.mu.RLock()
	fromBlock := l.lastProcessedBlock + 1
	l.mu.RUnlock()

	if fromBlock > head {
		return
	}

	toBlock := head
	if toBlock-fromBlock+1 > MaxBlockRange {
		toBlock = fromBlock + MaxBlockRange - 1
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{l.contractAddr},
		Topics:    [][]common.Hash{l.topics},
	}

	logsCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	logs, err := l.backend.FilterLogs(logsCtx, query)
	cancel()
	if err != nil {
		l.lggr.Warnw("Failed to filter logs", "fromBlock", fromBlock, "toBlock", toBlock, "error", err)
		return
	}

	for i := range logs {
		request, err := DecodeLog(&logs[i])
		if err != nil {
			// A malformed event never blocks the stream.
			l.lggr.Errorw("Failed to decode event, skipping",
				"txHash", logs[i].TxHash,
				"logIndex", logs[i].Index,
				"error", err)
			continue
		}

		select {
		case l.requestCh <- request:
			l.lggr.Infow("📬 Claim request received",
				"kind", request.Kind,
				"claimId", request.Key().ClaimID,
				"block", request.BlockNumber,
				"txHash", request.TxHash)
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		}
	}

	l.mu.Lock()
	l.lastProcessedBlock = toBlock
	l.mu.Unlock()

	if err := l.checkpoints.WriteCheckpoint(ctx, toBlock); err != nil {
		l.lggr.Warnw("Failed to write checkpoint", "block", toBlock, "error", err)
	}
}

// DecodeLog turns a raw contract log into a typed claim request. It
// returns types.ErrDecode for logs whose payload does not match the
// event ABI.
func DecodeLog(log *coretypes.Log) (*types.ClaimRequest, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log without topics: %w", types.ErrDecode)
	}

	event, err := ledger.BridgeABI.EventByID(log.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("unknown event topic %s: %w", log.Topics[0], types.ErrDecode)
	}

	values := map[string]any{}
	if err := event.Inputs.UnpackIntoMap(values, log.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w: %w", event.Name, types.ErrDecode, err)
	}

	request := &types.ClaimRequest{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		Raw:         *log,
	}

	switch event.Name {
	case ledger.EventRegistrationRequest:
		request.Kind = types.KindRegistration
		request.Actor, err = field[common.Address](values, "account")
		if err == nil {
			request.Subject, err = field[string](values, "userId")
		}
	case ledger.EventReleaseRequest:
		request.Kind = types.KindRelease
		request.ClaimID, err = field[*big.Int](values, "claimId")
		if err == nil {
			request.Subject, err = field[string](values, "issueId")
		}
		if err == nil {
			request.Actor, err = field[common.Address](values, "account")
		}
	case ledger.EventClaimRequest:
		request.Kind = types.KindPullRequest
		request.ClaimID, err = field[*big.Int](values, "claimId")
		if err == nil {
			request.Subject, err = field[string](values, "prId")
		}
		if err == nil {
			request.Actor, err = field[common.Address](values, "account")
		}
	case ledger.EventDeposit:
		request.Kind = types.KindDeposit
		request.Actor, err = field[common.Address](values, "from")
		if err == nil {
			request.Amount, err = field[*big.Int](values, "amount")
		}
		if err == nil {
			request.Subject, err = field[string](values, "issueId")
		}
	default:
		return nil, fmt.Errorf("unhandled event %s: %w", event.Name, types.ErrDecode)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", event.Name, err)
	}

	return request, nil
}

func field[T any](values map[string]any, name string) (T, error) {
	v, ok := values[name].(T)
	if !ok {
		return v, fmt.Errorf("field %q missing or mistyped: %w", name, types.ErrDecode)
	}
	return v, nil
}
