package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/rcld/internal/config"
	"github.com/LeJamon/rcld/internal/logging"
)

func defaults(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig(config.ConfigPaths{})
	require.NoError(t, err)
	return cfg
}

func TestSimulateTopologies(t *testing.T) {
	for _, topology := range []string{"full", "ranked", "hub"} {
		t.Run(topology, func(t *testing.T) {
			cfg := defaults(t)
			cfg.Simulation.Peers = 5
			cfg.Simulation.Rounds = 2
			cfg.Simulation.Topology = topology

			report, err := simulate(cfg, logging.Discard().Logger)
			require.NoError(t, err)
			assert.Equal(t, 5, report.Peers)
			assert.GreaterOrEqual(t, report.MaxSeq, uint32(2))
			assert.Zero(t, report.AcceptErrors)
		})
	}
}

func TestSimulateRejectsUnknownTopology(t *testing.T) {
	cfg := defaults(t)
	cfg.Simulation.Topology = "ring"
	_, err := simulate(cfg, logging.Discard().Logger)
	assert.ErrorContains(t, err, "unknown topology")
}

func TestKeygenIsDeterministicWithSeed(t *testing.T) {
	run := func() string {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs([]string{"keygen", "--seed", "alpha"})
		require.NoError(t, rootCmd.Execute())
		return out.String()
	}
	first := run()
	assert.Equal(t, first, run())
	assert.True(t, strings.HasPrefix(first, "node_id:"))
	assert.NotContains(t, first, "private_key")
}

func TestRunStandaloneNode(t *testing.T) {
	cfg := defaults(t)
	cfg.Node.ValidationSeed = "standalone"
	cfg.Node.Ledgers = 1
	cfg.Node.TickInterval = 50 * time.Millisecond
	cfg.Storage.InMemory = true
	cfg.History.Config.Driver = "sqlite"
	cfg.History.Config.Path = filepath.Join(t.TempDir(), "history.db")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, runNode(ctx, cfg, logging.Discard().Logger))
}
