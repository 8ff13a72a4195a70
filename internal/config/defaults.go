package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/rpc"
	"github.com/LeJamon/rcld/internal/storage/nodestore"
	"github.com/LeJamon/rcld/internal/storage/relationaldb"
)

// setDefaults sets the default values for every key.
func setDefaults(v *viper.Viper) {
	p := consensus.DefaultParams()
	v.SetDefault("consensus.min_open_time", p.MinOpenTime)
	v.SetDefault("consensus.idle_interval", p.IdleInterval)
	v.SetDefault("consensus.min_establish_time", p.MinEstablishTime)
	v.SetDefault("consensus.establish_timeout", p.EstablishTimeout)
	v.SetDefault("consensus.stale_proposal_timeout", p.StaleProposalTimeout)
	v.SetDefault("consensus.propose_interval", p.ProposeInterval)
	v.SetDefault("consensus.validation_freshness", p.ValidationFreshness)
	v.SetDefault("consensus.min_consensus_percent", p.MinConsensusPercent)
	v.SetDefault("consensus.close_time_consensus_percent", p.CloseTimeConsensusPercent)
	v.SetDefault("consensus.initial_close_resolution", p.InitialCloseResolution)
	v.SetDefault("consensus.max_close_resolution", p.MaxCloseResolution)
	v.SetDefault("consensus.resolution_increase_every", p.ResolutionIncreaseEvery)
	v.SetDefault("consensus.resolution_decrease_every", p.ResolutionDecreaseEvery)
	v.SetDefault("consensus.share_disputes", p.ShareDisputes)

	v.SetDefault("node.proposing", true)
	v.SetDefault("node.tick_interval", time.Second)
	v.SetDefault("node.queue_size", 1024)
	v.SetDefault("node.txset_cache_size", 256)
	v.SetDefault("node.event_buffer", 256)

	s := nodestore.DefaultConfig()
	v.SetDefault("storage.backend", s.Backend)
	v.SetDefault("storage.path", s.Path)
	v.SetDefault("storage.in_memory", s.InMemory)
	v.SetDefault("storage.cache_size", s.CacheSize)
	v.SetDefault("storage.compressor", s.Compressor)
	v.SetDefault("storage.sync_writes", s.SyncWrites)

	h := relationaldb.DefaultConfig()
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.driver", h.Driver)
	v.SetDefault("history.path", h.Path)
	v.SetDefault("history.host", h.Host)
	v.SetDefault("history.port", h.Port)
	v.SetDefault("history.database", h.Database)
	v.SetDefault("history.username", h.Username)
	v.SetDefault("history.ssl_mode", h.SSLMode)
	v.SetDefault("history.max_open_conns", h.MaxOpenConns)
	v.SetDefault("history.max_idle_conns", h.MaxIdleConns)
	v.SetDefault("history.conn_max_lifetime", h.ConnMaxLifetime)
	v.SetDefault("history.default_timeout", h.DefaultTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	r := rpc.DefaultConfig()
	v.SetDefault("rpc.enabled", false)
	v.SetDefault("rpc.address", r.Address)
	v.SetDefault("rpc.send_buffer", r.SendBuffer)
	v.SetDefault("rpc.read_timeout", r.ReadTimeout)

	v.SetDefault("simulation.peers", 5)
	v.SetDefault("simulation.topology", "full")
	v.SetDefault("simulation.unl_size", 4)
	v.SetDefault("simulation.link_delay", 200*time.Millisecond)
	v.SetDefault("simulation.rounds", 10)
	v.SetDefault("simulation.tx_interval", 2*time.Second)

	v.SetDefault("validators_file", "validators.txt")
}
