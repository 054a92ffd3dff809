package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/8001800/charta/config"
	"github.com/8001800/charta/core/state"
	"github.com/8001800/charta/crypto"
	"github.com/8001800/charta/native/creditor"
	"github.com/8001800/charta/native/debttoken"
	"github.com/8001800/charta/native/ledger"
	"github.com/8001800/charta/native/ltv"
	"github.com/8001800/charta/native/registry"
	"github.com/8001800/charta/native/token"
	"github.com/8001800/charta/observability/logging"
	"github.com/8001800/charta/storage"
)

const operatorPassEnv = "CHARTA_OPERATOR_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CHARTA_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup(logging.Options{
		Service: "chartad",
		Env:     env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	operatorKey, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, os.Getenv(operatorPassEnv))
	if err != nil {
		panic(fmt.Sprintf("Failed to load operator key: %v", err))
	}
	operatorAddr := operatorKey.PubKey().Address()

	owner, err := cfg.Owner()
	if err != nil {
		logger.Error("Invalid owner address", slog.Any("error", err))
		os.Exit(1)
	}

	st := state.NewState(db)
	agents := registry.New(st)
	if err := bootstrapCoordinator(agents, owner, operatorAddr.Bytes()); err != nil {
		logger.Error("Failed to bootstrap coordinator", slog.Any("error", err))
		os.Exit(1)
	}

	debtLedger := ledger.New(st, agents)
	tokens := token.NewModule(st, owner)
	debtTokens := debttoken.New(st)

	engine := creditor.NewEngine(operatorAddr.Bytes(), owner, st, debtLedger, tokens, debtTokens)
	debtLedger.SetEmitter(engine.CollaboratorEmitter())
	tokens.SetEmitter(engine.CollaboratorEmitter())
	debtTokens.SetEmitter(engine.CollaboratorEmitter())
	if feed, ok, err := cfg.PriceFeed(); err != nil {
		logger.Error("Invalid price feed operator", slog.Any("error", err))
		os.Exit(1)
	} else if ok {
		engine.SetDecisionEngine(ltv.NewEngine(), feed)
		logger.Info("Collateral evaluation enabled")
	}

	if err := st.Commit(); err != nil {
		logger.Error("Failed to commit bootstrap state", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("Settlement daemon started",
		slog.String("operator", operatorAddr.String()),
		slog.String("dataDir", cfg.DataDir),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", slog.String("signal", sig.String()))

	if err := st.Commit(); err != nil {
		logger.Error("Failed to flush state", slog.Any("error", err))
		os.Exit(1)
	}
}
