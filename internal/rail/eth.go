package rail

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// escrowABI covers the escrow contract calls the server makes on behalf of
// its operator wallet.
const escrowABI = `[
	{"name":"fundJob","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"_jobId","type":"uint256"},{"name":"_amount","type":"uint256"}],"outputs":[]},
	{"name":"releasePayment","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"_jobId","type":"uint256"}],"outputs":[]},
	{"name":"resolveDispute","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"_jobId","type":"uint256"},{"name":"_clientPercentage","type":"uint256"},{"name":"_freelancerPercentage","type":"uint256"}],"outputs":[]},
	{"name":"cancelJob","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"_jobId","type":"uint256"}],"outputs":[]},
	{"name":"jobs","type":"function","stateMutability":"view",
	 "inputs":[{"name":"","type":"uint256"}],
	 "outputs":[{"name":"jobId","type":"uint256"},{"name":"client","type":"address"},
	  {"name":"freelancer","type":"address"},{"name":"amount","type":"uint256"},
	  {"name":"depositedAmount","type":"uint256"},{"name":"status","type":"uint8"},
	  {"name":"disputeRaised","type":"bool"},{"name":"createdAt","type":"uint256"},
	  {"name":"completedAt","type":"uint256"}]}
]`

// EthConfig holds the connection settings for EthRail.
type EthConfig struct {
	RPCURL          string
	PrivateKeyHex   string
	ContractAddress string
	TokenDecimals   int32
}

// EthRail submits escrow transactions through a go-ethereum bound contract.
type EthRail struct {
	client    *ethclient.Client
	contract  *bind.BoundContract
	transacts *bind.TransactOpts
	decimals  int32

	// mu serializes submissions so nonces are assigned in order. refs only
	// dedupes within this process; after a restart the contract's own job
	// record is consulted before anything is resent.
	mu   sync.Mutex
	refs map[string]string
}

// chainJob is the part of the contract's job record that tells whether a
// call already took effect.
type chainJob struct {
	Deposited *big.Int
	Status    uint8
}

// applied reports whether the effect of kind is already visible on chain.
// Funding leaves a deposit behind; every payout empties it. Payouts are only
// sent after their fund call confirmed, so an empty deposit means paid out.
func (j chainJob) applied(kind string) bool {
	funded := j.Deposited != nil && j.Deposited.Sign() > 0
	if kind == "fund" {
		return funded
	}
	return !funded
}

func decodeChainJob(out []any) (chainJob, error) {
	if len(out) < 6 {
		return chainJob{}, fmt.Errorf("jobs: expected 9 values, got %d", len(out))
	}
	deposited, ok := out[4].(*big.Int)
	if !ok {
		return chainJob{}, fmt.Errorf("jobs: depositedAmount has type %T", out[4])
	}
	status, ok := out[5].(uint8)
	if !ok {
		return chainJob{}, fmt.Errorf("jobs: status has type %T", out[5])
	}
	return chainJob{Deposited: deposited, Status: status}, nil
}

func NewEthRail(ctx context.Context, cfg EthConfig) (*EthRail, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid escrow contract address %q", cfg.ContractAddress)
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	parsedABI, err := parseEscrowABI()
	if err != nil {
		return nil, err
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("transactor: %w", err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	return &EthRail{
		client:    cli,
		contract:  bind.NewBoundContract(address, parsedABI, cli, cli, cli),
		transacts: txOpts,
		decimals:  cfg.TokenDecimals,
		refs:      make(map[string]string),
	}, nil
}

func (e *EthRail) Close() {
	e.client.Close()
}

func (e *EthRail) FundJob(ctx context.Context, jobID uuid.UUID, amount decimal.Decimal) (string, error) {
	return e.transact(ctx, "fund", jobID, "fundJob", jobIDToUint256(jobID), toBaseUnits(amount, e.decimals))
}

func (e *EthRail) ReleasePayment(ctx context.Context, jobID uuid.UUID) (string, error) {
	return e.transact(ctx, "release", jobID, "releasePayment", jobIDToUint256(jobID))
}

func (e *EthRail) ResolveDispute(ctx context.Context, jobID uuid.UUID, clientPct, freelancerPct int) (string, error) {
	if clientPct < 0 || freelancerPct < 0 || clientPct+freelancerPct != 100 {
		return "", fmt.Errorf("%w: split %d/%d", ErrRejected, clientPct, freelancerPct)
	}
	return e.transact(ctx, "resolve", jobID, "resolveDispute",
		jobIDToUint256(jobID), big.NewInt(int64(clientPct)), big.NewInt(int64(freelancerPct)))
}

func (e *EthRail) RefundJob(ctx context.Context, jobID uuid.UUID) (string, error) {
	return e.transact(ctx, "refund", jobID, "cancelJob", jobIDToUint256(jobID))
}

// Status reads the transaction receipt. A missing receipt means not yet mined.
func (e *EthRail) Status(ctx context.Context, txRef string) (TxStatus, error) {
	receipt, err := e.client.TransactionReceipt(ctx, common.HexToHash(txRef))
	if errors.Is(err, ethereum.NotFound) {
		return TxPending, nil
	}
	if err != nil {
		return TxPending, fmt.Errorf("%w: fetch receipt: %v", ErrRailUnavailable, err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return TxConfirmed, nil
	}
	return TxFailed, nil
}

func (e *EthRail) Ping(ctx context.Context) error {
	_, err := e.client.BlockNumber(ctx)
	return err
}

func (e *EthRail) transact(ctx context.Context, kind string, jobID uuid.UUID, method string, args ...any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := kind + ":" + jobID.String()
	if ref, ok := e.refs[key]; ok {
		return ref, nil
	}

	state, err := e.readJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if state.applied(kind) {
		return "", fmt.Errorf("%w: %s for job %s", ErrAlreadyApplied, kind, jobID)
	}

	opts := *e.transacts
	opts.Context = ctx

	tx, err := e.contract.Transact(&opts, method, args...)
	if err != nil {
		return "", fmt.Errorf("%w: %s tx: %v", ErrRailUnavailable, method, err)
	}

	ref := tx.Hash().Hex()
	e.refs[key] = ref
	return ref, nil
}

func (e *EthRail) readJob(ctx context.Context, jobID uuid.UUID) (chainJob, error) {
	var out []any
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "jobs", jobIDToUint256(jobID)); err != nil {
		return chainJob{}, fmt.Errorf("%w: read job %s: %v", ErrRailUnavailable, jobID, err)
	}
	return decodeChainJob(out)
}

func parseEscrowABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// jobIDToUint256 maps a job UUID onto the contract's uint256 job id.
func jobIDToUint256(id uuid.UUID) *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// toBaseUnits converts a token amount into integer minor units.
func toBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).BigInt()
}
