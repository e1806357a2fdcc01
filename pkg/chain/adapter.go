package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/cuemby/sentinel/pkg/log"
)

// Backend is the subset of an Ethereum RPC client the adapter needs.
// *ethclient.Client satisfies it; tests use an in-memory fake.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Addresses holds the deployed contract addresses the agent watches.
type Addresses struct {
	WETH   common.Address
	USDC   common.Address
	Oracle common.Address
	AMM    common.Address
	Vault  common.Address
}

// Gas policy: estimate plus 25% headroom, hard cap.
const (
	gasHeadroomNum = 125
	gasHeadroomDen = 100
	gasCap         = uint64(1_000_000)

	receiptPollInterval = 500 * time.Millisecond
	receiptWaitTimeout  = 90 * time.Second
)

// Adapter is the read/write gateway to the chain. All outgoing transactions
// from the single signer are serialized through an in-process lock; the
// nonce is tracked locally and refetched after any permanent error.
type Adapter struct {
	backend Backend
	addrs   Addresses
	chainID *big.Int

	key    *ecdsa.PrivateKey
	sender common.Address

	txMu      sync.Mutex
	nonce     uint64
	nonceInit bool

	logger zerolog.Logger
}

// Dial connects to the RPC endpoint and builds an adapter around it.
func Dial(ctx context.Context, rpcURL, signerKeyHex string, addrs Addresses) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, classify("dial", err)
	}
	return New(ctx, client, signerKeyHex, addrs)
}

// New builds an adapter around an existing backend.
func New(ctx context.Context, backend Backend, signerKeyHex string, addrs Addresses) (*Adapter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(signerKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, classify("chain_id", err)
	}

	a := &Adapter{
		backend: backend,
		addrs:   addrs,
		chainID: chainID,
		key:     key,
		sender:  crypto.PubkeyToAddress(key.PublicKey),
		logger:  log.WithComponent("chain"),
	}
	return a, nil
}

// Sender returns the signer address.
func (a *Adapter) Sender() common.Address { return a.sender }

// Addrs returns the watched contract addresses.
func (a *Adapter) Addrs() Addresses { return a.addrs }

// CurrentBlock returns the latest block number.
func (a *Adapter) CurrentBlock(ctx context.Context) (uint64, error) {
	n, err := a.backend.BlockNumber(ctx)
	if err != nil {
		return 0, classify("block_number", err)
	}
	return n, nil
}

// SignerBalance returns the signer's native token balance.
func (a *Adapter) SignerBalance(ctx context.Context) (*big.Int, error) {
	bal, err := a.backend.BalanceAt(ctx, a.sender, nil)
	if err != nil {
		return nil, classify("balance_at", err)
	}
	return bal, nil
}

// callView packs, calls and unpacks a view function on the given contract.
func (a *Adapter) callView(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, &PermanentError{Op: method, Err: err}
	}
	out, err := a.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, classify(method, err)
	}
	vals, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, &PermanentError{Op: method, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return vals, nil
}

// FetchLogs returns logs for the given block range, addresses and topics.
func (a *Adapter) FetchLogs(ctx context.Context, from, to uint64, addresses []common.Address, topics []common.Hash) ([]ethtypes.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addresses,
	}
	if len(topics) > 0 {
		q.Topics = [][]common.Hash{topics}
	}
	logs, err := a.backend.FilterLogs(ctx, q)
	if err != nil {
		return nil, classify("filter_logs", err)
	}
	return logs, nil
}

// Submit builds, signs and sends a transaction invoking method on contract,
// then waits for the receipt. The signer's nonce discipline: one tx at a
// time, no pipelining, refetch from chain after any permanent error.
func (a *Adapter) Submit(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) (common.Hash, *ethtypes.Receipt, error) {
	a.txMu.Lock()
	defer a.txMu.Unlock()

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return common.Hash{}, nil, &PermanentError{Op: method, Err: err}
	}

	if !a.nonceInit {
		if err := a.refreshNonceLocked(ctx); err != nil {
			return common.Hash{}, nil, err
		}
	}

	gas, err := a.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: a.sender,
		To:   &contract,
		Data: data,
	})
	if err != nil {
		err = classify(method+"/estimate_gas", err)
		if IsPermanent(err) {
			a.nonceInit = false
		}
		return common.Hash{}, nil, err
	}
	gas = gas * gasHeadroomNum / gasHeadroomDen
	if gas > gasCap {
		gas = gasCap
	}

	tip, err := a.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, nil, classify(method+"/gas_tip", err)
	}
	gasPrice, err := a.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, nil, classify(method+"/gas_price", err)
	}
	// Fee cap: twice the suggested price plus tip.
	feeCap := new(big.Int).Add(new(big.Int).Mul(gasPrice, big.NewInt(2)), tip)

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     a.nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &contract,
		Data:      data,
	})

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(a.chainID), a.key)
	if err != nil {
		return common.Hash{}, nil, &PermanentError{Op: method, Err: err}
	}

	if err := a.backend.SendTransaction(ctx, signed); err != nil {
		err = classify(method+"/send", err)
		if IsPermanent(err) {
			a.nonceInit = false
		}
		return common.Hash{}, nil, err
	}
	a.nonce++

	receipt, err := a.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return signed.Hash(), nil, err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		a.nonceInit = false
		return signed.Hash(), receipt, &PermanentError{Op: method, Err: fmt.Errorf("transaction reverted in block %d", receipt.BlockNumber)}
	}

	a.logger.Debug().
		Str("method", method).
		Str("tx", signed.Hash().Hex()).
		Uint64("block", receipt.BlockNumber.Uint64()).
		Uint64("gas_used", receipt.GasUsed).
		Msg("transaction confirmed")

	return signed.Hash(), receipt, nil
}

func (a *Adapter) refreshNonceLocked(ctx context.Context) error {
	n, err := a.backend.NonceAt(ctx, a.sender, nil)
	if err != nil {
		return classify("nonce_at", err)
	}
	a.nonce = n
	a.nonceInit = true
	return nil
}

func (a *Adapter) waitReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	deadline := time.Now().Add(receiptWaitTimeout)
	for {
		receipt, err := a.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, &TransientError{Op: "wait_receipt", Err: fmt.Errorf("no receipt for %s after %s", hash.Hex(), receiptWaitTimeout)}
		}
		select {
		case <-ctx.Done():
			return nil, &TransientError{Op: "wait_receipt", Err: ctx.Err()}
		case <-time.After(receiptPollInterval):
		}
	}
}
