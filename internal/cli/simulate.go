package cli

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LeJamon/rcld/internal/config"
	"github.com/LeJamon/rcld/internal/core/consensus/csf"
	"github.com/LeJamon/rcld/internal/logging"
)

var (
	simPeers    int
	simRounds   int
	simTopology string
	simSeed     int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated validator network",
	Long: `Run a network of simulated validators in virtual time and report how
consensus went. Topologies:

  full    every peer trusts and links to every other peer
  ranked  each peer trusts its unl_size nearest peers
  hub     spokes only link to a central hub`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("peers") {
			cfg.Simulation.Peers = simPeers
		}
		if flags.Changed("rounds") {
			cfg.Simulation.Rounds = simRounds
		}
		if flags.Changed("topology") {
			cfg.Simulation.Topology = simTopology
		}
		if flags.Changed("seed") {
			cfg.Simulation.Seed = simSeed
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		report, err := simulate(cfg, logger)
		logging.Component(logger, "simulate").WithFields(report.Fields()).Info("Simulation finished")
		return err
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simPeers, "peers", 0, "number of peers")
	simulateCmd.Flags().IntVar(&simRounds, "rounds", 0, "ledgers every peer must close")
	simulateCmd.Flags().StringVar(&simTopology, "topology", "", "full, ranked or hub")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "random seed")
	rootCmd.AddCommand(simulateCmd)
}

func simulate(cfg *config.Config, logger *logrus.Logger) (csf.Report, error) {
	sc := cfg.Simulation
	if sc.Peers < 1 {
		return csf.Report{}, fmt.Errorf("simulation needs at least one peer, got %d", sc.Peers)
	}

	simConfig := csf.DefaultConfig()
	simConfig.Params = cfg.Consensus.Params()
	simConfig.Granularity = cfg.Node.TickInterval
	simConfig.Seed = sc.Seed
	simConfig.Logger = logging.Component(logger, "csf")
	sim := csf.NewSimWithConfig(simConfig)

	var peers *csf.PeerGroup
	switch sc.Topology {
	case "", "full":
		peers = sim.SetupFullyConnected(sc.Peers, sc.LinkDelay)
	case "ranked":
		peers = sim.SetupRanked(sc.Peers, sc.UNLSize, sc.LinkDelay)
	case "hub":
		sim.SetupHubAndSpokes(sc.Peers-1, sc.LinkDelay)
		peers = sim.AllPeers()
	default:
		return csf.Report{}, fmt.Errorf("unknown topology %q", sc.Topology)
	}

	if sc.TxInterval > 0 {
		// keep transactions flowing for twice the idle close cadence per round
		budget := time.Duration(sc.Rounds+1) * 2 * simConfig.Params.IdleInterval
		target := peers.Get(sim.Rng.Intn(peers.Size()))
		sim.SubmitEvery(target, sc.TxInterval, csf.SimTime(budget), 1)
	}

	err := sim.Run(sc.Rounds)
	return sim.Report(), err
}
