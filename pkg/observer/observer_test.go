package observer

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/sentinel/pkg/chain"
)

// fakeReader is a scripted ChainReader.
type fakeReader struct {
	block    uint64
	blockErr error

	price    int64
	priceErr error
	twap     int64

	weth *big.Int
	usdc *big.Int
	spot int64

	ammPaused   bool
	vaultPaused bool
	liqBlocked  bool

	activity    chain.BlockActivity
	activityErr error
	scanCalls   int
	scanFrom    uint64
	scanTo      uint64
}

func (f *fakeReader) CurrentBlock(ctx context.Context) (uint64, error) {
	return f.block, f.blockErr
}

func (f *fakeReader) OraclePrice(ctx context.Context) (chain.OracleReading, error) {
	if f.priceErr != nil {
		return chain.OracleReading{}, f.priceErr
	}
	return chain.OracleReading{Price: f.price, Block: f.block}, nil
}

func (f *fakeReader) OracleTWAP(ctx context.Context) (int64, int, error) {
	return f.twap, 10, nil
}

func (f *fakeReader) AMMReserves(ctx context.Context) (chain.Reserves, error) {
	return chain.Reserves{WETH: f.weth, USDC: f.usdc, Spot: f.spot}, nil
}

func (f *fakeReader) AMMPaused(ctx context.Context) (bool, error)  { return f.ammPaused, nil }
func (f *fakeReader) VaultPaused(ctx context.Context) (bool, error) { return f.vaultPaused, nil }
func (f *fakeReader) LiquidationsBlocked(ctx context.Context) (bool, error) {
	return f.liqBlocked, nil
}

func (f *fakeReader) ScanActivity(ctx context.Context, from, to uint64) (chain.BlockActivity, error) {
	f.scanCalls++
	f.scanFrom, f.scanTo = from, to
	if f.activityErr != nil {
		return chain.BlockActivity{}, f.activityErr
	}
	return f.activity, nil
}

func weth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func balancedReader() *fakeReader {
	// 100 WETH / 200,000 USDC pool: spot exactly 2000e8.
	return &fakeReader{
		block: 100,
		price: 2000_00000000,
		twap:  2000_00000000,
		weth:  weth(100),
		usdc:  usdc(200_000),
		spot:  2000_00000000,
	}
}

func TestSpotFromReserves(t *testing.T) {
	assert.Equal(t, int64(2000_00000000), SpotFromReserves(weth(100), usdc(200_000)))
	assert.Equal(t, int64(1200_00000000), SpotFromReserves(weth(100), usdc(120_000)))
	assert.Equal(t, int64(0), SpotFromReserves(big.NewInt(0), usdc(1)))
}

func TestDeviationBps(t *testing.T) {
	tests := []struct {
		name   string
		oracle int64
		amm    int64
		want   int64
	}{
		{"no deviation", 2000_00000000, 2000_00000000, 0},
		{"amm above oracle", 2000_00000000, 2100_00000000, -500},
		{"amm crashed", 2000_00000000, 1200_00000000, 4000},
		{"small", 2000_00000000, 2002_00000000, -10},
		{"zero oracle", 0, 1000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeviationBps(tt.oracle, tt.amm))
		})
	}
}

func TestObserveBuildsSnapshot(t *testing.T) {
	reader := balancedReader()
	o := New(reader)

	snap, err := o.Observe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), snap.Cycle)
	assert.Equal(t, uint64(100), snap.Block)
	assert.Equal(t, int64(2000_00000000), snap.OraclePrice)
	assert.Equal(t, int64(2000_00000000), snap.AMMSpotPrice)
	assert.Equal(t, int64(0), snap.DeviationBps)
	assert.True(t, snap.Valid)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestObserveSameBlockSkipsLogScan(t *testing.T) {
	reader := balancedReader()
	o := New(reader)

	_, err := o.Observe(context.Background())
	require.NoError(t, err)
	first := reader.scanCalls

	// Chain did not advance: snapshot still emitted, no log scan, zero counts.
	snap, err := o.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, reader.scanCalls)
	assert.Equal(t, 0, snap.SwapCount)
	assert.Equal(t, 0, snap.OracleUpdates)
	assert.Equal(t, uint64(2), snap.Cycle)
}

func TestObserveScanRange(t *testing.T) {
	reader := balancedReader()
	o := New(reader)

	_, err := o.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), reader.scanFrom)
	assert.Equal(t, uint64(100), reader.scanTo)

	reader.block = 105
	_, err = o.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(101), reader.scanFrom)
	assert.Equal(t, uint64(105), reader.scanTo)
}

func TestObserveAbortsOnLogFailure(t *testing.T) {
	reader := balancedReader()
	reader.activityErr = errors.New("timeout")
	o := New(reader)

	_, err := o.Observe(context.Background())
	require.Error(t, err)
	assert.Empty(t, o.History())

	// Next tick retries from the same last block.
	reader.activityErr = nil
	snap, err := o.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), reader.scanTo)
	assert.Equal(t, uint64(1), snap.Cycle)
}

func TestObserveEmptyReservesInvalid(t *testing.T) {
	reader := balancedReader()
	reader.weth = big.NewInt(0)
	reader.usdc = big.NewInt(0)
	o := New(reader)

	snap, err := o.Observe(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Valid)
	assert.Equal(t, "empty reserves", snap.InvalidReason)
}

func TestObserveSpotMismatchInvalid(t *testing.T) {
	reader := balancedReader()
	reader.spot = 2500_00000000 // disagrees with 100/200k reserves
	o := New(reader)

	snap, err := o.Observe(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Valid)
	assert.Contains(t, snap.InvalidReason, "disagrees")
}

func TestObserveActivityCounts(t *testing.T) {
	reader := balancedReader()
	reader.activity = chain.BlockActivity{
		Swaps: []chain.SwapLog{
			{AmountIn: weth(5), IsWethToUsdc: true},
			{AmountIn: usdc(100_000), IsWethToUsdc: false}, // 50 WETH at $2000
		},
		PriceUpdates: []chain.PriceUpdateLog{{NewPrice: 1900_00000000}},
	}
	o := New(reader)

	snap, err := o.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.SwapCount)
	assert.Equal(t, 1, snap.OracleUpdates)
	assert.Equal(t, 0, snap.LargestSwapWETH.Cmp(weth(50)))
}

func TestObserveHistoryBounded(t *testing.T) {
	reader := balancedReader()
	o := New(reader)

	for i := 0; i < historyCapacity+20; i++ {
		reader.block++
		_, err := o.Observe(context.Background())
		require.NoError(t, err)
	}
	hist := o.History()
	assert.Len(t, hist, historyCapacity)
	assert.Equal(t, uint64(historyCapacity+20), hist[len(hist)-1].Cycle)

	recent := o.Recent(3)
	require.Len(t, recent, 3)
	assert.True(t, recent[0].Cycle < recent[2].Cycle)
}
