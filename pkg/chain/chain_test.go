package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known dev key, never used outside tests.
const testSignerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testAddrs() Addresses {
	return Addresses{
		WETH:   common.HexToAddress("0x1000000000000000000000000000000000000001"),
		USDC:   common.HexToAddress("0x1000000000000000000000000000000000000002"),
		Oracle: common.HexToAddress("0x1000000000000000000000000000000000000003"),
		AMM:    common.HexToAddress("0x1000000000000000000000000000000000000004"),
		Vault:  common.HexToAddress("0x1000000000000000000000000000000000000005"),
	}
}

// fakeBackend is an in-memory Backend for adapter tests. View responses are
// registered per method selector; sent transactions confirm immediately.
type fakeBackend struct {
	mu sync.Mutex

	blockNum uint64
	balance  *big.Int

	viewResults map[string][]byte
	viewErr     error

	sent        []*ethtypes.Transaction
	sendErr     error
	receiptFail bool

	nonce    uint64
	nonceErr error

	logs []ethtypes.Log
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		blockNum:    100,
		balance:     big.NewInt(1e18),
		viewResults: make(map[string][]byte),
	}
}

func (f *fakeBackend) registerView(data []byte, result []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewResults[common.Bytes2Hex(data[:4])] = result
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockNum, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.viewErr != nil {
		return nil, f.viewErr
	}
	if len(msg.Data) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	out, ok := f.viewResults[common.Bytes2Hex(msg.Data[:4])]
	if !ok {
		return nil, fmt.Errorf("execution reverted: unknown method")
	}
	return out, nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ethtypes.Log
	for _, lg := range f.logs {
		if lg.BlockNumber < q.FromBlock.Uint64() || lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == txHash {
			status := ethtypes.ReceiptStatusSuccessful
			if f.receiptFail {
				status = ethtypes.ReceiptStatusFailed
			}
			return &ethtypes.Receipt{
				Status:      status,
				TxHash:      txHash,
				BlockNumber: new(big.Int).SetUint64(f.blockNum),
				GasUsed:     21000,
			}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nonceErr != nil {
		return 0, f.nonceErr
	}
	return f.nonce, nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(31337), nil
}

func newTestAdapter(t *testing.T, backend *fakeBackend) *Adapter {
	t.Helper()
	a, err := New(context.Background(), backend, testSignerKey, testAddrs())
	require.NoError(t, err)
	return a
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		revert    string
	}{
		{"revert with reason", errors.New("execution reverted: Already paused"), false, "Already paused"},
		{"revert bare", errors.New("execution reverted"), false, ""},
		{"nonce too low", errors.New("nonce too low"), false, ""},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), false, ""},
		{"timeout", errors.New("request timeout"), true, ""},
		{"connection refused", errors.New("dial tcp: connection refused"), true, ""},
		{"rate limited", errors.New("429 too many requests"), true, ""},
		{"unknown defaults transient", errors.New("something odd"), true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, !tt.transient, IsPermanent(err))
			assert.Equal(t, tt.revert, RevertReason(err))
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, classify("op", nil))
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return &PermanentError{Op: "pause", Revert: "Already paused"}
	})
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestRetryEventualSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &TransientError{Op: "get_price", Err: errors.New("timeout")}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return &TransientError{Op: "get_price", Err: errors.New("timeout")}
	})
	assert.True(t, IsTransient(err))
	assert.Equal(t, retryMaxAttempts, calls)
}

func TestOraclePrice(t *testing.T) {
	backend := newFakeBackend()
	a := newTestAdapter(t, backend)

	call, err := oracleABI.Pack("getPrice")
	require.NoError(t, err)
	out, err := oracleABI.Methods["getPrice"].Outputs.Pack(
		big.NewInt(2000_00000000), big.NewInt(1_700_000_000), big.NewInt(100))
	require.NoError(t, err)
	backend.registerView(call, out)

	reading, err := a.OraclePrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2000_00000000), reading.Price)
	assert.Equal(t, uint64(100), reading.Block)
}

func TestAMMReserves(t *testing.T) {
	backend := newFakeBackend()
	a := newTestAdapter(t, backend)

	weth, _ := new(big.Int).SetString("100000000000000000000", 10) // 100 WETH
	usdc := big.NewInt(200_000_000_000)                            // 200k USDC

	call, err := ammABI.Pack("getReserves")
	require.NoError(t, err)
	out, err := ammABI.Methods["getReserves"].Outputs.Pack(weth, usdc, big.NewInt(2000_00000000))
	require.NoError(t, err)
	backend.registerView(call, out)

	res, err := a.AMMReserves(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.WETH.Cmp(weth))
	assert.Equal(t, 0, res.USDC.Cmp(usdc))
	assert.Equal(t, int64(2000_00000000), res.Spot)
}

func TestPausedFlags(t *testing.T) {
	backend := newFakeBackend()
	a := newTestAdapter(t, backend)

	call, err := ammABI.Pack("paused")
	require.NoError(t, err)
	out, err := ammABI.Methods["paused"].Outputs.Pack(true)
	require.NoError(t, err)
	backend.registerView(call, out)

	paused, err := a.AMMPaused(context.Background())
	require.NoError(t, err)
	assert.True(t, paused)
}

func TestSubmitConfirms(t *testing.T) {
	backend := newFakeBackend()
	backend.nonce = 7
	a := newTestAdapter(t, backend)

	hash, err := a.PauseAMM(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, uint64(7), tx.Nonce())
	// 25% headroom over the 100k estimate.
	assert.Equal(t, uint64(125_000), tx.Gas())
}

func TestSubmitNonceAdvances(t *testing.T) {
	backend := newFakeBackend()
	a := newTestAdapter(t, backend)

	_, err := a.PauseAMM(context.Background())
	require.NoError(t, err)
	_, err = a.UnpauseAMM(context.Background())
	require.NoError(t, err)

	require.Len(t, backend.sent, 2)
	assert.Equal(t, uint64(0), backend.sent[0].Nonce())
	assert.Equal(t, uint64(1), backend.sent[1].Nonce())
}

func TestSubmitRevertOnSend(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("execution reverted: Already paused")
	a := newTestAdapter(t, backend)

	_, err := a.PauseAMM(context.Background())
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, "Already paused", RevertReason(err))

	// Nonce cache is dropped, so the next submit refetches from chain.
	backend.sendErr = nil
	backend.nonce = 42
	_, err = a.PauseAMM(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), backend.sent[0].Nonce())
}

func TestSubmitFailedReceipt(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptFail = true
	a := newTestAdapter(t, backend)

	_, err := a.PauseAMM(context.Background())
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestScanActivity(t *testing.T) {
	backend := newFakeBackend()
	a := newTestAdapter(t, backend)
	addrs := testAddrs()

	swapData, err := ammABI.Events["Swap"].Inputs.NonIndexed().Pack(
		big.NewInt(5e18), big.NewInt(9_500_000_000), true, big.NewInt(1900_00000000), big.NewInt(99))
	require.NoError(t, err)
	sender := common.HexToAddress("0xabc0000000000000000000000000000000000001")
	backend.logs = append(backend.logs, ethtypes.Log{
		Address:     addrs.AMM,
		Topics:      []common.Hash{TopicSwap, common.BytesToHash(sender.Bytes())},
		Data:        swapData,
		BlockNumber: 99,
		TxHash:      common.HexToHash("0x01"),
	})

	liqData, err := vaultABI.Events["Liquidation"].Inputs.NonIndexed().Pack(
		big.NewInt(1000_000000), big.NewInt(1e18), big.NewInt(1700_00000000), big.NewInt(99), big.NewInt(1_700_000_000))
	require.NoError(t, err)
	liquidator := common.HexToAddress("0xabc0000000000000000000000000000000000002")
	victim := common.HexToAddress("0xabc0000000000000000000000000000000000003")
	backend.logs = append(backend.logs, ethtypes.Log{
		Address:     addrs.Vault,
		Topics:      []common.Hash{TopicLiquidation, common.BytesToHash(liquidator.Bytes()), common.BytesToHash(victim.Bytes())},
		Data:        liqData,
		BlockNumber: 99,
		TxHash:      common.HexToHash("0x02"),
	})

	activity, err := a.ScanActivity(context.Background(), 90, 100)
	require.NoError(t, err)

	require.Len(t, activity.Swaps, 1)
	assert.Equal(t, sender, activity.Swaps[0].Sender)
	assert.True(t, activity.Swaps[0].IsWethToUsdc)
	assert.Equal(t, int64(1900_00000000), activity.Swaps[0].Price)

	require.Len(t, activity.Liquidations, 1)
	assert.Equal(t, victim, activity.Liquidations[0].User)
	assert.Equal(t, uint64(99), activity.Liquidations[0].Block)
}

func TestScanActivityProtectionEvents(t *testing.T) {
	backend := newFakeBackend()
	a := newTestAdapter(t, backend)
	addrs := testAddrs()

	pauser := common.HexToAddress("0xabc0000000000000000000000000000000000009")
	backend.logs = append(backend.logs,
		ethtypes.Log{
			Address:     addrs.AMM,
			Topics:      []common.Hash{TopicEmergencyPaused, common.BigToHash(big.NewInt(1_700_000_000)), common.BytesToHash(pauser.Bytes())},
			BlockNumber: 95,
			TxHash:      common.HexToHash("0x03"),
		},
		ethtypes.Log{
			Address:     addrs.Vault,
			Topics:      []common.Hash{TopicLiquidationsBlocked, common.BigToHash(big.NewInt(1_700_000_001)), common.BytesToHash(pauser.Bytes())},
			BlockNumber: 96,
			TxHash:      common.HexToHash("0x04"),
		},
		ethtypes.Log{
			Address:     addrs.AMM,
			Topics:      []common.Hash{TopicReserveAnomaly, common.BigToHash(big.NewInt(97))},
			BlockNumber: 97,
			TxHash:      common.HexToHash("0x05"),
		},
	)

	activity, err := a.ScanActivity(context.Background(), 90, 100)
	require.NoError(t, err)

	require.Len(t, activity.Protections, 3)
	assert.Equal(t, "EmergencyPaused", activity.Protections[0].Kind)
	assert.Equal(t, pauser, activity.Protections[0].By)
	assert.Equal(t, "LiquidationsBlocked", activity.Protections[1].Kind)
	assert.Equal(t, uint64(96), activity.Protections[1].Block)
	assert.Equal(t, "ReserveAnomaly", activity.Protections[2].Kind)
	assert.Equal(t, common.Address{}, activity.Protections[2].By)
}

func TestBadSignerKey(t *testing.T) {
	_, err := New(context.Background(), newFakeBackend(), "not-a-key", testAddrs())
	assert.Error(t, err)
}
