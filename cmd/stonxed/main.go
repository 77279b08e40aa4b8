package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/stonxe/stonxed/params"
	"github.com/stonxe/stonxed/pkg/api"
	"github.com/stonxe/stonxed/pkg/cheque"
	"github.com/stonxe/stonxed/pkg/exchange"
	"github.com/stonxe/stonxed/pkg/storage"
	"github.com/stonxe/stonxed/pkg/token"
	"github.com/stonxe/stonxed/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	// Setup logging (console + file, or console only when LOG_FILE="")
	var logger *zap.Logger
	var err error
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Storage ----
	store, err := storage.NewPebbleStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("storage_init_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	// ---- Token ----
	// The deployer holds the initial supply and seeds other accounts with
	// plain transfers.
	deployer := cfg.Exchange.FeeAccount
	if v := os.Getenv("TOKEN_DEPLOYER"); common.IsHexAddress(v) {
		deployer = common.HexToAddress(v)
	}
	tokenAddr := common.HexToAddress("0x00000000000000000000000000000000005702e1")
	if v := os.Getenv("TOKEN_ADDRESS"); common.IsHexAddress(v) {
		tokenAddr = common.HexToAddress(v)
	}
	stx := token.NewStonxe(tokenAddr, deployer)

	// ---- Event fan-out ----
	hub := api.NewHub()

	// ---- Exchange engine ----
	x := exchange.New(exchange.Config{
		Self:       cfg.Exchange.Self,
		FeeAccount: cfg.Exchange.FeeAccount,
		FeePercent: cfg.Exchange.FeePercent,
		Logger:     sugar,
		Store:      store,
		Sink:       hub,
	})
	if err := x.RegisterToken(tokenAddr, stx); err != nil {
		sugar.Fatalw("token_register_failed", "err", err)
	}

	// ---- Escrow book ----
	book := cheque.NewBook(cheque.Config{
		Self:       cfg.Exchange.Self,
		TokenAddr:  tokenAddr,
		Token:      stx,
		FeeAccount: cfg.Exchange.FeeAccount,
		FeePercent: cfg.Exchange.FeePercent,
		Logger:     sugar,
		Store:      store,
		Sink:       hub.ChequeSink(),
	})

	// ---- Recovery ----
	if err := restoreState(store, x, book); err != nil {
		sugar.Fatalw("state_recovery_failed", "err", err)
	}
	sugar.Infow("state_recovered",
		"orders", x.OrderCount(), "cheques", book.Count())

	// ---- API server ----
	server := api.NewServer(x, book, store, hub, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.Start(cfg.Node.APIListen); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started",
		"api", cfg.Node.APIListen,
		"fee_account", cfg.Exchange.FeeAccount.Hex(),
		"fee_percent", cfg.Exchange.FeePercent,
		"token", tokenAddr.Hex())

	<-ctx.Done()
	sugar.Info("shutting down")
}

// recover_ reloads the persisted ledger, order book and escrow tickets so a
// restarted node continues id and journal numbering where it left off.
func restoreState(store *storage.PebbleStore, x *exchange.Exchange, book *cheque.Book) error {
	balances, err := store.LoadBalances()
	if err != nil {
		return err
	}
	for _, rec := range balances {
		x.RestoreBalance(rec.Token, rec.User, rec.Balance)
	}

	orders, err := store.LoadOrders()
	if err != nil {
		return err
	}
	for _, o := range orders {
		x.RestoreOrder(*o)
	}

	seq, err := store.LastEventSeq()
	if err != nil {
		return err
	}
	x.SetEventSeq(seq)

	cheques, err := store.LoadCheques()
	if err != nil {
		return err
	}
	for _, c := range cheques {
		book.RestoreCheque(*c)
	}

	cseq, err := store.LastChequeEventSeq()
	if err != nil {
		return err
	}
	book.SetEventSeq(cseq)
	return nil
}
