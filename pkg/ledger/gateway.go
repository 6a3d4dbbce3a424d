// Package ledger wraps the on-chain contract surface: reading the
// oracle job registry, checking confirmation state and submitting
// confirmation transactions with serialized nonce management.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	bridgetypes "github.com/claimbridge/claimbridge/pkg/types"
)

// Backend is the chain client surface the gateway needs. Satisfied by
// *ethclient.Client.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Config holds the gateway configuration.
type Config struct {
	// ContractAddress is the bridge contract.
	ContractAddress common.Address
	// PrivateKey is the oracle signing key, hex encoded without 0x.
	PrivateKey string
	// ChainID for EIP-155 signing.
	ChainID *big.Int
	// GasLimit applied to confirmation transactions (default: 500000).
	GasLimit uint64
	// MinedTimeout bounds waiting for a receipt (default: 90s).
	MinedTimeout time.Duration
}

// Gateway submits confirmation transactions and reads contract state.
// Submissions are serialized through a mutex so concurrent workers
// never race on the account nonce.
type Gateway struct {
	lggr     logger.Logger
	backend  Backend
	contract *bind.BoundContract
	address  common.Address
	key      *ecdsa.PrivateKey
	sender   common.Address
	chainID  *big.Int

	gasLimit     uint64
	minedTimeout time.Duration

	nonceMu sync.Mutex
}

// NewGateway creates a gateway bound to the bridge contract.
func NewGateway(config Config, backend Backend, lggr logger.Logger) (*Gateway, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if config.ChainID == nil {
		return nil, errors.New("chain ID is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(config.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	gasLimit := config.GasLimit
	if gasLimit == 0 {
		gasLimit = 500_000
	}
	minedTimeout := config.MinedTimeout
	if minedTimeout == 0 {
		minedTimeout = 90 * time.Second
	}
	return &Gateway{
		lggr:         logger.Named(lggr, "LedgerGateway"),
		backend:      backend,
		contract:     bind.NewBoundContract(config.ContractAddress, BridgeABI, backend, backend, backend),
		address:      config.ContractAddress,
		key:          key,
		sender:       crypto.PubkeyToAddress(key.PublicKey),
		chainID:      config.ChainID,
		gasLimit:     gasLimit,
		minedTimeout: minedTimeout,
	}, nil
}

// Sender returns the oracle account address.
func (g *Gateway) Sender() common.Address {
	return g.sender
}

// JobRegistry reads the configured oracle job identifiers for every
// claim kind that requires an on-chain submission.
func (g *Gateway) JobRegistry(ctx context.Context) (bridgetypes.JobRegistry, error) {
	registry := make(bridgetypes.JobRegistry)
	for _, kind := range []bridgetypes.ClaimKind{
		bridgetypes.KindRegistration,
		bridgetypes.KindRelease,
		bridgetypes.KindPullRequest,
	} {
		var out []any
		err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, "jobIds", uint8(kind))
		if err != nil {
			return nil, fmt.Errorf("failed to read job id for %s: %w", kind, err)
		}
		registry[kind] = *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	}
	return registry, nil
}

// IsClaimConfirmed reports whether the contract already recorded a
// confirmation for the given claim.
func (g *Gateway) IsClaimConfirmed(ctx context.Context, kind bridgetypes.ClaimKind, claimID *big.Int) (bool, error) {
	var out []any
	err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, "claimConfirmed", uint8(kind), claimID)
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation state: %w", err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// ReadBalance returns the oracle account's current balance in wei.
func (g *Gateway) ReadBalance(ctx context.Context) (*big.Int, error) {
	balance, err := g.backend.BalanceAt(ctx, g.sender, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read oracle balance: %w", err)
	}
	return balance, nil
}

// Submit sends the confirmation transaction for a verified claim and
// waits for it to be mined. The returned error is classified into the
// bridge taxonomy so the processor can decide between retry paths. The
// oracle balance left after the attempt is logged on every call.
func (g *Gateway) Submit(ctx context.Context, req *bridgetypes.ClaimRequest, decision *bridgetypes.Decision) (*bridgetypes.SubmitReceipt, error) {
	defer g.logBalance(ctx)

	tx, err := g.transact(ctx, req, decision)
	if err != nil {
		return nil, classifySubmitError(err)
	}

	g.lggr.Infow("confirmation transaction sent",
		"kind", req.Kind,
		"claimId", req.Key().ClaimID,
		"txHash", tx.Hash(),
		"nonce", tx.Nonce(),
	)

	waitCtx, cancel := context.WithTimeout(ctx, g.minedTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, g.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for receipt %s: %w: %w", tx.Hash(), bridgetypes.ErrTransientNetwork, err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("transaction %s reverted: %w", tx.Hash(), bridgetypes.ErrAuthorizationRejected)
	}

	return &bridgetypes.SubmitReceipt{
		TxHash:  receipt.TxHash,
		GasUsed: receipt.GasUsed,
	}, nil
}

// transact acquires the nonce and sends the transaction while holding
// the nonce mutex, so concurrent claims get strictly increasing nonces.
func (g *Gateway) transact(ctx context.Context, req *bridgetypes.ClaimRequest, decision *bridgetypes.Decision) (*types.Transaction, error) {
	g.nonceMu.Lock()
	defer g.nonceMu.Unlock()

	nonce, err := g.backend.PendingNonceAt(ctx, g.sender)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending nonce: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(g.key, g.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.GasLimit = g.gasLimit

	switch req.Kind {
	case bridgetypes.KindRegistration:
		return g.contract.Transact(opts, "confirmRegistration", req.Subject, req.Actor)
	case bridgetypes.KindRelease:
		return g.contract.Transact(opts, "confirmRelease", req.ClaimID, req.Subject)
	case bridgetypes.KindPullRequest:
		if decision.Score == nil {
			return nil, errors.New("pull request confirmation requires a score")
		}
		return g.contract.Transact(opts, "confirmClaim", req.ClaimID, req.Subject, *decision.Score)
	default:
		return nil, fmt.Errorf("claim kind %s has no submission entry point", req.Kind)
	}
}

func (g *Gateway) logBalance(ctx context.Context) {
	balance, err := g.ReadBalance(ctx)
	if err != nil {
		g.lggr.Warnw("failed to read oracle balance", "error", err)
		return
	}
	g.lggr.Infow("oracle balance after submission attempt", "account", g.sender, "balanceWei", balance)
}

// Substrings geth clients return for nonce races. A conflict means
// another transaction took our nonce; the caller refreshes and resends.
var nonceConflictMarkers = []string{
	"nonce too low",
	"replacement transaction underpriced",
	"already known",
}

func classifySubmitError(err error) error {
	msg := err.Error()
	for _, marker := range nonceConflictMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w", bridgetypes.ErrNonceConflict, err)
		}
	}
	if strings.Contains(msg, "execution reverted") {
		return fmt.Errorf("%w: %w", bridgetypes.ErrAuthorizationRejected, err)
	}
	return fmt.Errorf("%w: %w", bridgetypes.ErrTransientNetwork, err)
}
