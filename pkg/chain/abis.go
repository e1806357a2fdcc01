package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Minimal ABI fragments for the deployed protocol contracts. The contracts
// are ABI-frozen; only the methods and events the agent touches are bound.

const oracleABIJSON = `[
  {"type":"function","name":"getPrice","stateMutability":"view","inputs":[],
   "outputs":[{"name":"_price","type":"uint256"},{"name":"_timestamp","type":"uint256"},{"name":"_blockNumber","type":"uint256"}]},
  {"type":"function","name":"getTWAP","stateMutability":"view","inputs":[],
   "outputs":[{"name":"twap","type":"uint256"},{"name":"sampleCount","type":"uint256"}]},
  {"type":"function","name":"forceUpdatePrice","stateMutability":"nonpayable",
   "inputs":[{"name":"newPrice","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"PriceUpdated","inputs":[
    {"name":"timestamp","type":"uint256","indexed":true},
    {"name":"oldPrice","type":"uint256","indexed":false},
    {"name":"newPrice","type":"uint256","indexed":false},
    {"name":"percentageChange","type":"uint256","indexed":false},
    {"name":"updater","type":"address","indexed":true}]}
]`

const ammABIJSON = `[
  {"type":"function","name":"getReserves","stateMutability":"view","inputs":[],
   "outputs":[{"name":"_wethReserve","type":"uint256"},{"name":"_usdcReserve","type":"uint256"},{"name":"spotPrice","type":"uint256"}]},
  {"type":"function","name":"paused","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"pause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"unpause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"swapWethForUsdc","stateMutability":"nonpayable",
   "inputs":[{"name":"wethAmountIn","type":"uint256"}],"outputs":[{"name":"usdcOut","type":"uint256"}]},
  {"type":"function","name":"swapUsdcForWeth","stateMutability":"nonpayable",
   "inputs":[{"name":"usdcAmountIn","type":"uint256"}],"outputs":[{"name":"wethOut","type":"uint256"}]},
  {"type":"event","name":"Swap","inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"amountIn","type":"uint256","indexed":false},
    {"name":"amountOut","type":"uint256","indexed":false},
    {"name":"isWethToUsdc","type":"bool","indexed":false},
    {"name":"effectivePrice","type":"uint256","indexed":false},
    {"name":"blockNumber","type":"uint256","indexed":false}]},
  {"type":"event","name":"EmergencyPaused","inputs":[
    {"name":"timestamp","type":"uint256","indexed":true},
    {"name":"by","type":"address","indexed":true}]},
  {"type":"event","name":"ReserveAnomaly","inputs":[
    {"name":"blockNumber","type":"uint256","indexed":true},
    {"name":"wethReserve","type":"uint256","indexed":false},
    {"name":"usdcReserve","type":"uint256","indexed":false}]}
]`

const vaultABIJSON = `[
  {"type":"function","name":"paused","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"liquidationsBlocked","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"isLiquidatable","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"bool"},{"name":"","type":"uint256"}]},
  {"type":"function","name":"pause","stateMutability":"nonpayable",
   "inputs":[{"name":"reason","type":"string"}],"outputs":[]},
  {"type":"function","name":"unpause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"blockLiquidations","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"unblockLiquidations","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"event","name":"Liquidation","inputs":[
    {"name":"liquidator","type":"address","indexed":true},
    {"name":"user","type":"address","indexed":true},
    {"name":"debtRepaid","type":"uint256","indexed":false},
    {"name":"collateralSeized","type":"uint256","indexed":false},
    {"name":"oraclePrice","type":"uint256","indexed":false},
    {"name":"blockNumber","type":"uint256","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"LiquidationsBlocked","inputs":[
    {"name":"timestamp","type":"uint256","indexed":true},
    {"name":"by","type":"address","indexed":true}]}
]`

var (
	oracleABI = mustParseABI(oracleABIJSON)
	ammABI    = mustParseABI(ammABIJSON)
	vaultABI  = mustParseABI(vaultABIJSON)
)

// Event topic hashes the observer filters on.
var (
	TopicSwap                = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,bool,uint256,uint256)"))
	TopicPriceUpdated        = crypto.Keccak256Hash([]byte("PriceUpdated(uint256,uint256,uint256,uint256,address)"))
	TopicLiquidation         = crypto.Keccak256Hash([]byte("Liquidation(address,address,uint256,uint256,uint256,uint256,uint256)"))
	TopicEmergencyPaused     = crypto.Keccak256Hash([]byte("EmergencyPaused(uint256,address)"))
	TopicLiquidationsBlocked = crypto.Keccak256Hash([]byte("LiquidationsBlocked(uint256,address)"))
	TopicReserveAnomaly      = crypto.Keccak256Hash([]byte("ReserveAnomaly(uint256,uint256,uint256)"))
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: invalid embedded ABI: " + err.Error())
	}
	return parsed
}
