// Command btfbridged runs the Bridge Coordinator. It replaces the
// reference repo's cmd/arcsign entrypoint, keeping the same
// interactive-vs-dashboard dual-mode split (ARCSIGN_MODE becomes
// COORDINATOR_MODE) but dispatching the coordinator's query/command
// surface instead of wallet commands.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/btfbridge/coordinator/internal/app"
	"github.com/btfbridge/coordinator/internal/bridge"
	"github.com/btfbridge/coordinator/internal/bridge/chains"
	"github.com/btfbridge/coordinator/internal/bridge/contract"
	"github.com/btfbridge/coordinator/internal/bridge/coordinator"
	"github.com/btfbridge/coordinator/internal/bridge/eventlog"
	"github.com/btfbridge/coordinator/internal/bridge/metrics"
	"github.com/btfbridge/coordinator/internal/bridge/scheduler"
	"github.com/btfbridge/coordinator/internal/bridge/signer"
	"github.com/btfbridge/coordinator/internal/bridge/store"
	"github.com/btfbridge/coordinator/internal/facade"
	"github.com/btfbridge/coordinator/src/chainadapter/rpc"
)

const Version = "0.1.0"

func main() {
	mode := facade.DetectMode()

	if mode == facade.ModeDashboard {
		handleDashboardMode()
		return
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		handleRun()
	case "list-operations":
		handleListOperations()
	case "get-operation":
		handleGetOperation()
	case "get-evm-address":
		handleGetEVMAddress()
	case "get-metrics":
		handleGetMetrics()
	case "submit-deposit":
		handleSubmitDeposit()
	case "get-bridge-contract":
		handleGetBridgeContract()
	case "set-bridge-contract":
		handleSetBridgeContract()
	case "version":
		fmt.Printf("btfbridged v%s\n", Version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("btfbridged - BTFBridge coordinator")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  btfbridged run")
	fmt.Println("  btfbridged list-operations <0x-address>")
	fmt.Println("  btfbridged get-operation <id>")
	fmt.Println("  btfbridged get-evm-address")
	fmt.Println("  btfbridged get-metrics")
	fmt.Println("  btfbridged submit-deposit <chain-kind> <source-tx> <source-index> <amount> <sender-id-hex32> <from-token-hex32> <0x-recipient>")
	fmt.Println("  btfbridged get-bridge-contract")
	fmt.Println("  btfbridged set-bridge-contract <0x-address>")
	fmt.Println("  btfbridged version")
}

// buildCoordinator assembles a Coordinator from the working directory's
// admin_config.json and a fresh in-process contract.State, the same
// wiring a long-running daemon process would perform at startup before
// entering its scheduler loop.
func buildCoordinator() (*coordinator.Coordinator, error) {
	cfg, err := app.LoadAdminConfig(".")
	if err != nil {
		return nil, err
	}

	var sgn signer.Signer
	if cfg.SigningStrategy.Kind == app.SigningStrategyManaged {
		return nil, fmt.Errorf("managed signing strategy requires a configured ThresholdBackend; none is wired for the CLI entrypoint")
	}
	keyBytes := make([]byte, 32)
	if cfg.SigningStrategy.LocalKey != "" {
		decoded, err := hex.DecodeString(cfg.SigningStrategy.LocalKey)
		if err != nil {
			return nil, fmt.Errorf("invalid local_key hex: %w", err)
		}
		copy(keyBytes, decoded)
	} else if _, err := rand.Read(keyBytes); err != nil {
		return nil, err
	}
	ecKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	sgn = signer.NewLocalSignerFromKey(ecKey)

	st := store.NewMemoryStore()
	sched, err := scheduler.New(scheduler.BackoffConfig{BaseMs: cfg.RetryBaseMs, CapMs: cfg.RetryCapMs}, "scheduler_journal.ndjson")
	if err != nil {
		return nil, err
	}
	minterAddr, err := sgn.Address(context.Background())
	if err != nil {
		return nil, err
	}
	dest := contract.NewState(minterAddr, cfg.BaseChainID, true)
	if cfg.DepositFee > 0 {
		dest.SetGasReimbursement(new(big.Int).SetUint64(cfg.DepositFee))
	}
	m := metrics.NewPrometheusMetrics()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.LogFilter != "" {
		if lvl, err := zerolog.ParseLevel(cfg.LogFilter); err == nil {
			log = log.Level(lvl)
		}
	}

	adapters := map[bridge.BaseChainKind]bridge.BaseChainAdapter{}
	if len(cfg.BitcoinRPCEndpoints) > 0 && cfg.BitcoinWatchAddress != "" {
		timeout := time.Duration(cfg.BitcoinRPCTimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client, err := rpc.NewHTTPRPCClient(cfg.BitcoinRPCEndpoints, timeout, nil)
		if err != nil {
			return nil, fmt.Errorf("building bitcoin rpc client: %w", err)
		}
		adapters[bridge.ChainBitcoin] = chains.NewBitcoinAdapter(
			client, cfg.BitcoinWatchAddress, cfg.MinConfirmations, chains.NativeBTCResolver{}, bridge.ChainBitcoin,
		)
	}

	if cfg.EVMRPCEndpoint != "" && cfg.EVMCustodyAddress != "" {
		custody, err := parseAddress(cfg.EVMCustodyAddress)
		if err != nil {
			return nil, fmt.Errorf("invalid evm_custody_address: %w", err)
		}
		evmClient, err := ethclient.Dial(cfg.EVMRPCEndpoint)
		if err != nil {
			return nil, fmt.Errorf("dialing evm rpc endpoint: %w", err)
		}
		adapters[bridge.ChainEVM] = chains.NewEVMAdapter(evmClient, cfg.EVMChainID, ethcommon.Address(custody), uint64(cfg.MinConfirmations))
	}

	c := coordinator.New(
		coordinator.Config{
			MinConfirmations: cfg.MinConfirmations,
			MaxBatch:         cfg.MaxBatch,
			RetryBaseMs:      cfg.RetryBaseMs,
			RetryCapMs:       cfg.RetryCapMs,
			DepositFee:       cfg.DepositFee,
		},
		adapters,
		sgn, st, sched, dest, m, cfg.BaseChainID, log,
	)

	if cfg.BridgeContractAddress != "" {
		contractAddr, err := parseAddress(cfg.BridgeContractAddress)
		if err != nil {
			return nil, fmt.Errorf("invalid bridge_contract_address: %w", err)
		}
		c.SetBridgeContract(contractAddr)

		if cfg.EVMRPCEndpoint != "" {
			tailClient, err := ethclient.Dial(cfg.EVMRPCEndpoint)
			if err != nil {
				return nil, fmt.Errorf("dialing evm rpc endpoint for event tail: %w", err)
			}
			dec := eventlog.NewBridgeEventDecoder()
			tail := eventlog.New(
				eventlog.NewEVMLogSource(tailClient),
				dec,
				eventlog.NewMemoryCheckpointStore(),
				eventlog.Config{
					Contract:         ethcommon.Address(contractAddr),
					Confirmations:    uint64(cfg.MinConfirmations),
					MaxBlocksPerScan: uint64(cfg.MaxBlocksPerScan),
					PollInterval:     15 * time.Second,
					RetryBaseMs:      cfg.RetryBaseMs,
					RetryCapMs:       cfg.RetryCapMs,
				},
				log,
			)
			c.SetEventTail(tail, dec)
		}
	}

	return c, nil
}

// handleRun starts the coordinator daemon: seeds the recurring
// background tasks, then loops popping and dispatching due tasks until
// interrupted.
func handleRun() {
	c, err := buildCoordinator()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := c.StartBackgroundTasks(); err != nil {
		fmt.Println("error starting background tasks:", err)
		os.Exit(1)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ran, err := c.RunOnce(ctx)
		if err != nil {
			fmt.Println("scheduler error:", err)
		}
		if !ran {
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
}

func handleListOperations() {
	if len(os.Args) < 3 {
		fmt.Println("usage: btfbridged list-operations <0x-address>")
		os.Exit(1)
	}
	addr, err := parseAddress(os.Args[2])
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	c, err := buildCoordinator()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	ops, err := c.ListOperations(addr)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	if len(ops) == 0 {
		fmt.Println("no operations found")
		return
	}
	fmt.Printf("%-8s %-24s %-12s %s\n", "ID", "STATE", "SOURCE_TX", "UPDATED")
	for _, op := range ops {
		fmt.Printf("%-8d %-24s %-12s %s\n", op.ID, op.State, op.SourceTx, op.UpdatedAt.Format(time.RFC3339))
	}
}

func handleGetOperation() {
	if len(os.Args) < 3 {
		fmt.Println("usage: btfbridged get-operation <id>")
		os.Exit(1)
	}
	id, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		fmt.Println("error: invalid operation id:", err)
		os.Exit(1)
	}
	c, err := buildCoordinator()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	op, err := c.GetOperation(id)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	if op == nil {
		fmt.Println("operation not found")
		os.Exit(1)
	}
	fmt.Printf("id:          %d\n", op.ID)
	fmt.Printf("state:       %s\n", op.State)
	if op.FailReason != "" {
		fmt.Printf("fail_reason: %s\n", op.FailReason)
	}
	fmt.Printf("source_tx:   %s\n", op.SourceTx)
	fmt.Printf("created_at:  %s\n", op.CreatedAt.Format(time.RFC3339))
	fmt.Printf("updated_at:  %s\n", op.UpdatedAt.Format(time.RFC3339))
}

func handleGetEVMAddress() {
	c, err := buildCoordinator()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	addr, err := c.GetEVMAddress(context.Background())
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	fmt.Printf("0x%x\n", addr)
}

func handleGetMetrics() {
	c, err := buildCoordinator()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	snap := c.GetMetrics()
	fmt.Printf("cycles: %d\n", snap.Cycles)
	fmt.Printf("memory: %d bytes\n", snap.MemoryBytes)
	fmt.Printf("heap:   %d bytes\n", snap.HeapBytes)
	fmt.Printf("events_tailed: %d\n", snap.EventsTailedTotal)
	fmt.Printf("last_checkpoint: %d\n", snap.LastCheckpoint)
}

func handleSubmitDeposit() {
	if len(os.Args) < 9 {
		fmt.Println("usage: btfbridged submit-deposit <chain-kind> <source-tx> <source-index> <amount> <sender-id-hex32> <from-token-hex32> <0x-recipient>")
		os.Exit(1)
	}
	sourceIndex, err := strconv.ParseUint(os.Args[4], 10, 32)
	if err != nil {
		fmt.Println("error: invalid source index:", err)
		os.Exit(1)
	}
	amount, ok := new(big.Int).SetString(os.Args[5], 10)
	if !ok {
		fmt.Println("error: invalid amount")
		os.Exit(1)
	}
	senderID, err := parseBytes32(os.Args[6])
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	fromToken, err := parseBytes32(os.Args[7])
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	recipient, err := parseAddress(os.Args[8])
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}

	c, err := buildCoordinator()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	id, err := c.SubmitDeposit(bridge.DepositCandidate{
		ChainKind:   bridge.BaseChainKind(os.Args[2]),
		SourceTx:    os.Args[3],
		SourceIndex: uint32(sourceIndex),
		SenderID:    senderID,
		FromToken:   bridge.TokenID(fromToken),
		Recipient:   recipient,
		Amount:      amount,
		ObservedAt:  time.Now(),
	})
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	fmt.Printf("operation_id: %d\n", id)
}

func handleGetBridgeContract() {
	c, err := buildCoordinator()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	addr, ok := c.GetBridgeContract()
	if !ok {
		fmt.Println("no bridge contract configured")
		return
	}
	fmt.Printf("0x%x\n", *addr)
}

func handleSetBridgeContract() {
	if len(os.Args) < 3 {
		fmt.Println("usage: btfbridged set-bridge-contract <0x-address>")
		os.Exit(1)
	}
	addr, err := parseAddress(os.Args[2])
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	c, err := buildCoordinator()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	c.SetBridgeContract(addr)
	fmt.Printf("bridge contract set to 0x%x\n", addr)
}

// handleDashboardMode processes commands in non-interactive mode: all
// input from environment variables, output as single-line JSON to
// stdout, logs to stderr. Directly mirrors the reference entrypoint's
// dashboard-mode dispatch, scoped to the coordinator's own commands.
func handleDashboardMode() {
	facade.WriteLog(fmt.Sprintf("btfbridged v%s - Dashboard mode", Version))

	command := os.Getenv("CLI_COMMAND")
	requestID := generateRequestID()
	started := time.Now()

	if command == "" {
		facade.WriteJSON(facade.NewResponse(requestID, started, nil, fmt.Errorf("CLI_COMMAND environment variable not set")))
		os.Exit(1)
	}

	facade.WriteLog(fmt.Sprintf("executing command: %s", command))

	c, err := buildCoordinator()
	if err != nil {
		facade.WriteJSON(facade.NewResponse(requestID, started, nil, err))
		os.Exit(1)
	}

	var result interface{}
	switch command {
	case "get-evm-address":
		addr, err := c.GetEVMAddress(context.Background())
		if err != nil {
			facade.WriteJSON(facade.NewResponse(requestID, started, nil, err))
			os.Exit(1)
		}
		result = fmt.Sprintf("0x%x", addr)
	case "get-metrics":
		result = c.GetMetrics()
	case "list-operations":
		addr, err := parseAddress(os.Getenv("ADDRESS"))
		if err != nil {
			facade.WriteJSON(facade.NewResponse(requestID, started, nil, err))
			os.Exit(1)
		}
		ops, err := c.ListOperations(addr)
		if err != nil {
			facade.WriteJSON(facade.NewResponse(requestID, started, nil, err))
			os.Exit(1)
		}
		result = ops
	case "submit-deposit":
		sourceIndex, _ := strconv.ParseUint(os.Getenv("SOURCE_INDEX"), 10, 32)
		amount, ok := new(big.Int).SetString(os.Getenv("AMOUNT"), 10)
		if !ok {
			facade.WriteJSON(facade.NewResponse(requestID, started, nil, fmt.Errorf("invalid AMOUNT")))
			os.Exit(1)
		}
		senderID, err := parseBytes32(os.Getenv("SENDER_ID"))
		if err != nil {
			facade.WriteJSON(facade.NewResponse(requestID, started, nil, err))
			os.Exit(1)
		}
		fromToken, err := parseBytes32(os.Getenv("FROM_TOKEN"))
		if err != nil {
			facade.WriteJSON(facade.NewResponse(requestID, started, nil, err))
			os.Exit(1)
		}
		recipient, err := parseAddress(os.Getenv("ADDRESS"))
		if err != nil {
			facade.WriteJSON(facade.NewResponse(requestID, started, nil, err))
			os.Exit(1)
		}
		id, err := c.SubmitDeposit(bridge.DepositCandidate{
			ChainKind:   bridge.BaseChainKind(os.Getenv("CHAIN_KIND")),
			SourceTx:    os.Getenv("SOURCE_TX"),
			SourceIndex: uint32(sourceIndex),
			SenderID:    senderID,
			FromToken:   bridge.TokenID(fromToken),
			Recipient:   recipient,
			Amount:      amount,
			ObservedAt:  time.Now(),
		})
		if err != nil {
			facade.WriteJSON(facade.NewResponse(requestID, started, nil, err))
			os.Exit(1)
		}
		result = id
	case "get-bridge-contract":
		addr, ok := c.GetBridgeContract()
		if !ok {
			result = nil
		} else {
			result = fmt.Sprintf("0x%x", *addr)
		}
	case "set-bridge-contract":
		addr, err := parseAddress(os.Getenv("ADDRESS"))
		if err != nil {
			facade.WriteJSON(facade.NewResponse(requestID, started, nil, err))
			os.Exit(1)
		}
		c.SetBridgeContract(addr)
		result = fmt.Sprintf("0x%x", addr)
	default:
		facade.WriteJSON(facade.NewResponse(requestID, started, nil, fmt.Errorf("unknown command: %s", command)))
		os.Exit(1)
	}

	facade.WriteJSON(facade.NewResponse(requestID, started, result, nil))
}

func generateRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func parseBytes32(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	decoded, err := hex.DecodeString(s)
	if err != nil || len(decoded) != 32 {
		return out, fmt.Errorf("invalid 32-byte hex value: %q", s)
	}
	copy(out[:], decoded)
	return out, nil
}

func parseAddress(s string) ([20]byte, error) {
	var addr [20]byte
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	decoded, err := hex.DecodeString(s)
	if err != nil || len(decoded) != 20 {
		return addr, fmt.Errorf("invalid 20-byte hex address: %q", s)
	}
	copy(addr[:], decoded)
	return addr, nil
}

