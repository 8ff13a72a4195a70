package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/rcld/internal/config"
	"github.com/LeJamon/rcld/internal/crypto"
	"github.com/LeJamon/rcld/internal/crypto/validator"
	"github.com/LeJamon/rcld/internal/logging"
	"github.com/LeJamon/rcld/internal/node"
	"github.com/LeJamon/rcld/internal/rpc"
	"github.com/LeJamon/rcld/internal/storage/nodestore"
	"github.com/LeJamon/rcld/internal/storage/relationaldb"
)

var runLedgers int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a validator node",
	Long: `Run a validator node until interrupted, or until --ledgers ledgers
have been accepted. Without a network the node closes ledgers on its own.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("ledgers") {
			cfg.Node.Ledgers = runLedgers
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runNode(ctx, cfg, logger)
	},
}

func init() {
	runCmd.Flags().IntVar(&runLedgers, "ledgers", 0, "stop after this many accepted ledgers")
	rootCmd.AddCommand(runCmd)
}

// loadKey derives the validator key. Without a seed the node gets a
// throwaway key and only observes.
func loadKey(cfg *config.Config, log *logrus.Entry) (*crypto.KeyPair, bool, error) {
	if cfg.Node.ValidationSeed == "" {
		log.Warn("No validation seed configured, running as an observer")
		key, err := crypto.GenerateKeyPair()
		return key, false, err
	}
	key, err := crypto.KeyPairFromSeed([]byte(cfg.Node.ValidationSeed))
	return key, cfg.Node.Proposing, err
}

func runNode(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	log := logging.Component(logger, "node")

	key, proposing, err := loadKey(cfg, log)
	if err != nil {
		return fmt.Errorf("validator key: %w", err)
	}
	defer key.Zero()
	signer := validator.NewSigner(key)

	store, err := nodestore.Open(cfg.Storage, logging.Component(logger, "nodestore"))
	if err != nil {
		return err
	}
	defer store.Close()

	var history relationaldb.HistoryDB
	if cfg.History.Enabled {
		db, err := relationaldb.Open(ctx, cfg.History.Config)
		if err != nil {
			return fmt.Errorf("history database: %w", err)
		}
		defer db.Close()
		history = db
	}

	trusted, err := cfg.Validators.NodeIDs()
	if err != nil {
		return err
	}

	n, err := node.New(node.Config{
		Params:         cfg.Consensus.Params(),
		Trusted:        trusted,
		Quorum:         cfg.Validators.GetQuorum(),
		Proposing:      proposing,
		TickInterval:   cfg.Node.TickInterval,
		QueueSize:      cfg.Node.QueueSize,
		TxSetCacheSize: cfg.Node.TxSetCacheSize,
		EventBuffer:    cfg.Node.EventBuffer,
		Ledgers:        cfg.Node.Ledgers,
	}, node.Deps{
		Signer:  signer,
		Store:   store,
		History: history,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"node_id":   signer.NodeID().String(),
		"proposing": proposing,
		"unl":       len(trusted),
		"quorum":    n.Quorum(),
	}).Info("Starting node")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.RPC.Enabled {
		server := rpc.NewServer(cfg.RPC.Config, n, logging.Component(logger, "rpc"))
		n.Events().Subscribe(server)
		g.Go(func() error {
			return server.ListenAndServe(ctx)
		})
	}

	g.Go(func() error {
		// a node that reached its ledger target takes the servers down
		defer cancel()
		return n.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := n.Stats()
	log.WithFields(logrus.Fields{
		"accepted":      stats.Accepted,
		"last_closed":   stats.LastClosedSeq,
		"validated":     stats.ValidatedSeq,
		"dropped":       stats.QueueDropped,
		"bad_signature": stats.BadSignatures,
	}).Info("Node stopped")
	return nil
}
