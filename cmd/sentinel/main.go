package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/cuemby/sentinel/pkg/agent"
	"github.com/cuemby/sentinel/pkg/api"
	"github.com/cuemby/sentinel/pkg/chain"
	"github.com/cuemby/sentinel/pkg/config"
	"github.com/cuemby/sentinel/pkg/events"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/reasoner"
	"github.com/cuemby/sentinel/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes: 1 configuration, 2 unrecoverable chain, 3 LLM credential.
const (
	exitConfig = 1
	exitChain  = 2
	exitLLM    = 3
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Sentinel - autonomous on-chain security monitor",
	Long: `Sentinel watches a WETH/USDC lending protocol for oracle and AMM
price manipulation. A deterministic filter screens every observation;
suspicious states are classified by a language model and answered with
on-chain protective actions (pause, block liquidations, restore).`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Sentinel version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	agentCmd.Flags().String("config", "", "optional YAML config file (env still wins)")

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Sentinel version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the monitoring agent",
	Long: `Run the full pipeline: chain observer, anomaly filter, LLM reasoner,
policy decider, transaction actor, restore scheduler and the dashboard
HTTP/WebSocket API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runAgent(configPath)
	},
}

func runAgent(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(exitConfig)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("main")
	logger.Info().Str("version", Version).Msg("sentinel starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, err := chain.Dial(ctx, cfg.ChainRPCURL, cfg.SignerKey, chain.Addresses{
		WETH:   common.HexToAddress(cfg.ContractWETH),
		USDC:   common.HexToAddress(cfg.ContractUSDC),
		Oracle: common.HexToAddress(cfg.ContractOracle),
		AMM:    common.HexToAddress(cfg.ContractAMM),
		Vault:  common.HexToAddress(cfg.ContractVault),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chain connection failed: %v\n", err)
		os.Exit(exitChain)
	}
	metrics.RegisterComponent("chain", true, "")
	logger.Info().Str("signer", adapter.Sender().Hex()).Msg("chain connected")

	llm := reasoner.NewGeminiClient(cfg.LLMAPIKey, cfg.LLMModel, "", cfg.LLMTimeout())
	if err := llm.Verify(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "LLM credential rejected: %v\n", err)
		os.Exit(exitLLM)
	}

	st, err := store.Open(cfg.EventStoreCapacity, cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Event store error: %v\n", err)
		os.Exit(exitConfig)
	}
	defer st.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	ag := agent.New(cfg, adapter, llm, st, broker)
	if err := ag.CheckSignerFunds(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Signer account unusable: %v\n", err)
		os.Exit(exitChain)
	}

	srv := api.New(cfg.ListenAddr, st, broker, ag, ag)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("api server failed")
			stop()
		}
	}()

	runErr := ag.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown incomplete")
	}

	logger.Info().Msg("sentinel stopped")
	return runErr
}
