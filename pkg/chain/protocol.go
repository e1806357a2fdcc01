package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// OracleReading is the result of one getPrice call.
type OracleReading struct {
	Price     int64 // 8 decimals
	Timestamp uint64
	Block     uint64
}

// OraclePrice reads the oracle's current price.
func (a *Adapter) OraclePrice(ctx context.Context) (OracleReading, error) {
	vals, err := a.callView(ctx, a.addrs.Oracle, oracleABI, "getPrice")
	if err != nil {
		return OracleReading{}, err
	}
	if len(vals) != 3 {
		return OracleReading{}, &PermanentError{Op: "getPrice", Err: fmt.Errorf("expected 3 outputs, got %d", len(vals))}
	}
	price, ok := toInt64(vals[0])
	if !ok {
		return OracleReading{}, &PermanentError{Op: "getPrice", Err: fmt.Errorf("price out of range")}
	}
	return OracleReading{
		Price:     price,
		Timestamp: toUint64(vals[1]),
		Block:     toUint64(vals[2]),
	}, nil
}

// OracleTWAP reads the oracle's time-weighted average price.
func (a *Adapter) OracleTWAP(ctx context.Context) (twap int64, samples int, err error) {
	vals, err := a.callView(ctx, a.addrs.Oracle, oracleABI, "getTWAP")
	if err != nil {
		return 0, 0, err
	}
	if len(vals) != 2 {
		return 0, 0, &PermanentError{Op: "getTWAP", Err: fmt.Errorf("expected 2 outputs, got %d", len(vals))}
	}
	t, ok := toInt64(vals[0])
	if !ok {
		return 0, 0, &PermanentError{Op: "getTWAP", Err: fmt.Errorf("twap out of range")}
	}
	return t, int(toUint64(vals[1])), nil
}

// Reserves is the AMM pool state at one block.
type Reserves struct {
	WETH *big.Int // 18 decimals
	USDC *big.Int // 6 decimals
	Spot int64    // 8 decimals, as reported by the pool
}

// AMMReserves reads the pool reserves and spot price.
func (a *Adapter) AMMReserves(ctx context.Context) (Reserves, error) {
	vals, err := a.callView(ctx, a.addrs.AMM, ammABI, "getReserves")
	if err != nil {
		return Reserves{}, err
	}
	if len(vals) != 3 {
		return Reserves{}, &PermanentError{Op: "getReserves", Err: fmt.Errorf("expected 3 outputs, got %d", len(vals))}
	}
	weth, ok1 := toBig(vals[0])
	usdc, ok2 := toBig(vals[1])
	spot, ok3 := toInt64(vals[2])
	if !ok1 || !ok2 || !ok3 {
		return Reserves{}, &PermanentError{Op: "getReserves", Err: fmt.Errorf("malformed reserve values")}
	}
	return Reserves{WETH: weth, USDC: usdc, Spot: spot}, nil
}

// AMMPaused reads the pool pause flag.
func (a *Adapter) AMMPaused(ctx context.Context) (bool, error) {
	return a.boolView(ctx, a.addrs.AMM, ammABI, "paused")
}

// VaultPaused reads the vault pause flag.
func (a *Adapter) VaultPaused(ctx context.Context) (bool, error) {
	return a.boolView(ctx, a.addrs.Vault, vaultABI, "paused")
}

// LiquidationsBlocked reads the vault liquidation gate.
func (a *Adapter) LiquidationsBlocked(ctx context.Context) (bool, error) {
	return a.boolView(ctx, a.addrs.Vault, vaultABI, "liquidationsBlocked")
}

func (a *Adapter) boolView(ctx context.Context, contract common.Address, parsed abi.ABI, method string) (bool, error) {
	vals, err := a.callView(ctx, contract, parsed, method)
	if err != nil {
		return false, err
	}
	if len(vals) != 1 {
		return false, &PermanentError{Op: method, Err: fmt.Errorf("expected 1 output, got %d", len(vals))}
	}
	b, ok := vals[0].(bool)
	if !ok {
		return false, &PermanentError{Op: method, Err: fmt.Errorf("expected bool output")}
	}
	return b, nil
}

// PauseAMM submits the pool pause transaction.
func (a *Adapter) PauseAMM(ctx context.Context) (common.Hash, error) {
	hash, _, err := a.Submit(ctx, a.addrs.AMM, ammABI, "pause")
	return hash, err
}

// UnpauseAMM submits the pool unpause transaction.
func (a *Adapter) UnpauseAMM(ctx context.Context) (common.Hash, error) {
	hash, _, err := a.Submit(ctx, a.addrs.AMM, ammABI, "unpause")
	return hash, err
}

// PauseVault submits the vault pause transaction with a reason string.
func (a *Adapter) PauseVault(ctx context.Context, reason string) (common.Hash, error) {
	hash, _, err := a.Submit(ctx, a.addrs.Vault, vaultABI, "pause", reason)
	return hash, err
}

// UnpauseVault submits the vault unpause transaction.
func (a *Adapter) UnpauseVault(ctx context.Context) (common.Hash, error) {
	hash, _, err := a.Submit(ctx, a.addrs.Vault, vaultABI, "unpause")
	return hash, err
}

// BlockLiquidations submits the liquidation gate transaction.
func (a *Adapter) BlockLiquidations(ctx context.Context) (common.Hash, error) {
	hash, _, err := a.Submit(ctx, a.addrs.Vault, vaultABI, "blockLiquidations")
	return hash, err
}

// UnblockLiquidations reopens liquidations.
func (a *Adapter) UnblockLiquidations(ctx context.Context) (common.Hash, error) {
	hash, _, err := a.Submit(ctx, a.addrs.Vault, vaultABI, "unblockLiquidations")
	return hash, err
}

// SwapWethForUsdc submits a counter-swap selling WETH into the pool.
func (a *Adapter) SwapWethForUsdc(ctx context.Context, wethIn *big.Int) (common.Hash, error) {
	hash, _, err := a.Submit(ctx, a.addrs.AMM, ammABI, "swapWethForUsdc", wethIn)
	return hash, err
}

// SwapUsdcForWeth submits a counter-swap buying WETH from the pool.
func (a *Adapter) SwapUsdcForWeth(ctx context.Context, usdcIn *big.Int) (common.Hash, error) {
	hash, _, err := a.Submit(ctx, a.addrs.AMM, ammABI, "swapUsdcForWeth", usdcIn)
	return hash, err
}

// ForceUpdatePrice pushes a new oracle price. Used after restoration so the
// oracle converges with the corrected pool.
func (a *Adapter) ForceUpdatePrice(ctx context.Context, price8 int64) (common.Hash, error) {
	hash, _, err := a.Submit(ctx, a.addrs.Oracle, oracleABI, "forceUpdatePrice", big.NewInt(price8))
	return hash, err
}

// SwapLog is a decoded Swap event from the pool.
type SwapLog struct {
	Sender       common.Address
	AmountIn     *big.Int
	AmountOut    *big.Int
	IsWethToUsdc bool
	Price        int64 // effective price, 8 decimals
	Block        uint64
	TxHash       common.Hash
}

// PriceUpdateLog is a decoded PriceUpdated event from the oracle.
type PriceUpdateLog struct {
	OldPrice int64
	NewPrice int64
	Updater  common.Address
	Block    uint64
	TxHash   common.Hash
}

// LiquidationLog is a decoded Liquidation event from the vault.
type LiquidationLog struct {
	Liquidator       common.Address
	User             common.Address
	DebtRepaid       *big.Int
	CollateralSeized *big.Int
	OraclePrice      int64
	Block            uint64
	TxHash           common.Hash
}

// ProtectionLog is a decoded protection event: an emergency pause, a
// liquidation gate, or a reserve anomaly flagged by the pool itself.
type ProtectionLog struct {
	Kind   string         // EmergencyPaused, LiquidationsBlocked, ReserveAnomaly
	By     common.Address // zero for ReserveAnomaly
	Block  uint64
	TxHash common.Hash
}

// BlockActivity is everything the protocol emitted over a block range.
type BlockActivity struct {
	Swaps        []SwapLog
	PriceUpdates []PriceUpdateLog
	Liquidations []LiquidationLog
	Protections  []ProtectionLog
}

// ScanActivity fetches and decodes protocol events for [from, to].
func (a *Adapter) ScanActivity(ctx context.Context, from, to uint64) (BlockActivity, error) {
	logs, err := a.FetchLogs(ctx, from, to,
		[]common.Address{a.addrs.Oracle, a.addrs.AMM, a.addrs.Vault},
		[]common.Hash{TopicSwap, TopicPriceUpdated, TopicLiquidation,
			TopicEmergencyPaused, TopicLiquidationsBlocked, TopicReserveAnomaly})
	if err != nil {
		return BlockActivity{}, err
	}

	var activity BlockActivity
	for i := range logs {
		lg := &logs[i]
		if len(lg.Topics) == 0 {
			continue
		}
		switch lg.Topics[0] {
		case TopicSwap:
			s, err := decodeSwap(lg)
			if err != nil {
				a.logger.Warn().Err(err).Str("tx", lg.TxHash.Hex()).Msg("skipping undecodable swap log")
				continue
			}
			activity.Swaps = append(activity.Swaps, s)
		case TopicPriceUpdated:
			p, err := decodePriceUpdate(lg)
			if err != nil {
				a.logger.Warn().Err(err).Str("tx", lg.TxHash.Hex()).Msg("skipping undecodable oracle log")
				continue
			}
			activity.PriceUpdates = append(activity.PriceUpdates, p)
		case TopicLiquidation:
			l, err := decodeLiquidation(lg)
			if err != nil {
				a.logger.Warn().Err(err).Str("tx", lg.TxHash.Hex()).Msg("skipping undecodable liquidation log")
				continue
			}
			activity.Liquidations = append(activity.Liquidations, l)
		case TopicEmergencyPaused, TopicLiquidationsBlocked, TopicReserveAnomaly:
			activity.Protections = append(activity.Protections, decodeProtection(lg))
		}
	}
	return activity, nil
}

func decodeProtection(lg *ethtypes.Log) ProtectionLog {
	p := ProtectionLog{Block: lg.BlockNumber, TxHash: lg.TxHash}
	switch lg.Topics[0] {
	case TopicEmergencyPaused:
		p.Kind = "EmergencyPaused"
	case TopicLiquidationsBlocked:
		p.Kind = "LiquidationsBlocked"
	case TopicReserveAnomaly:
		p.Kind = "ReserveAnomaly"
	}
	// EmergencyPaused and LiquidationsBlocked index the caller as the
	// third topic; ReserveAnomaly indexes only the block number.
	if p.Kind != "ReserveAnomaly" && len(lg.Topics) >= 3 {
		p.By = common.BytesToAddress(lg.Topics[2].Bytes())
	}
	return p
}

func decodeSwap(lg *ethtypes.Log) (SwapLog, error) {
	vals, err := ammABI.Unpack("Swap", lg.Data)
	if err != nil {
		return SwapLog{}, err
	}
	if len(vals) != 5 || len(lg.Topics) < 2 {
		return SwapLog{}, fmt.Errorf("unexpected Swap layout")
	}
	amountIn, ok1 := toBig(vals[0])
	amountOut, ok2 := toBig(vals[1])
	dir, ok3 := vals[2].(bool)
	price, ok4 := toInt64(vals[3])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return SwapLog{}, fmt.Errorf("malformed Swap values")
	}
	return SwapLog{
		Sender:       common.BytesToAddress(lg.Topics[1].Bytes()),
		AmountIn:     amountIn,
		AmountOut:    amountOut,
		IsWethToUsdc: dir,
		Price:        price,
		Block:        lg.BlockNumber,
		TxHash:       lg.TxHash,
	}, nil
}

func decodePriceUpdate(lg *ethtypes.Log) (PriceUpdateLog, error) {
	vals, err := oracleABI.Unpack("PriceUpdated", lg.Data)
	if err != nil {
		return PriceUpdateLog{}, err
	}
	if len(vals) != 3 || len(lg.Topics) < 3 {
		return PriceUpdateLog{}, fmt.Errorf("unexpected PriceUpdated layout")
	}
	oldPrice, ok1 := toInt64(vals[0])
	newPrice, ok2 := toInt64(vals[1])
	if !ok1 || !ok2 {
		return PriceUpdateLog{}, fmt.Errorf("malformed PriceUpdated values")
	}
	return PriceUpdateLog{
		OldPrice: oldPrice,
		NewPrice: newPrice,
		Updater:  common.BytesToAddress(lg.Topics[2].Bytes()),
		Block:    lg.BlockNumber,
		TxHash:   lg.TxHash,
	}, nil
}

func decodeLiquidation(lg *ethtypes.Log) (LiquidationLog, error) {
	vals, err := vaultABI.Unpack("Liquidation", lg.Data)
	if err != nil {
		return LiquidationLog{}, err
	}
	if len(vals) != 5 || len(lg.Topics) < 3 {
		return LiquidationLog{}, fmt.Errorf("unexpected Liquidation layout")
	}
	debt, ok1 := toBig(vals[0])
	seized, ok2 := toBig(vals[1])
	price, ok3 := toInt64(vals[2])
	if !ok1 || !ok2 || !ok3 {
		return LiquidationLog{}, fmt.Errorf("malformed Liquidation values")
	}
	return LiquidationLog{
		Liquidator:       common.BytesToAddress(lg.Topics[1].Bytes()),
		User:             common.BytesToAddress(lg.Topics[2].Bytes()),
		DebtRepaid:       debt,
		CollateralSeized: seized,
		OraclePrice:      price,
		Block:            lg.BlockNumber,
		TxHash:           lg.TxHash,
	}, nil
}

func toBig(v interface{}) (*big.Int, bool) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return nil, false
	}
	return b, true
}

func toInt64(v interface{}) (int64, bool) {
	b, ok := v.(*big.Int)
	if !ok || b == nil || !b.IsInt64() {
		return 0, false
	}
	return b.Int64(), true
}

func toUint64(v interface{}) uint64 {
	b, ok := v.(*big.Int)
	if !ok || b == nil || !b.IsUint64() {
		return 0
	}
	return b.Uint64()
}
