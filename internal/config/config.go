// Package config loads the node configuration from a TOML file, RCLD_
// environment variables and a validators file.
package config

import (
	"time"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/logging"
	"github.com/LeJamon/rcld/internal/rpc"
	"github.com/LeJamon/rcld/internal/storage/nodestore"
	"github.com/LeJamon/rcld/internal/storage/relationaldb"
)

// Config represents the complete node configuration
type Config struct {
	Consensus  ConsensusConfig  `mapstructure:"consensus"`
	Node       NodeConfig       `mapstructure:"node"`
	Storage    nodestore.Config `mapstructure:"storage"`
	History    HistoryConfig    `mapstructure:"history"`
	Logging    logging.Config   `mapstructure:"logging"`
	RPC        RPCConfig        `mapstructure:"rpc"`
	Simulation SimulationConfig `mapstructure:"simulation"`

	// ValidatorsFile names the trusted validator list, relative to the
	// main config file.
	ValidatorsFile string `mapstructure:"validators_file"`

	// Validators is loaded from ValidatorsFile.
	Validators ValidatorsConfig `mapstructure:"-"`

	configPath     string
	validatorsPath string
}

// ConsensusConfig mirrors consensus.Params. Every node of a network must
// use the same values.
type ConsensusConfig struct {
	MinOpenTime               time.Duration     `mapstructure:"min_open_time"`
	IdleInterval              time.Duration     `mapstructure:"idle_interval"`
	MinEstablishTime          time.Duration     `mapstructure:"min_establish_time"`
	EstablishTimeout          time.Duration     `mapstructure:"establish_timeout"`
	StaleProposalTimeout      time.Duration     `mapstructure:"stale_proposal_timeout"`
	ProposeInterval           time.Duration     `mapstructure:"propose_interval"`
	ValidationFreshness       time.Duration     `mapstructure:"validation_freshness"`
	MinConsensusPercent       int               `mapstructure:"min_consensus_percent"`
	CloseTimeConsensusPercent int               `mapstructure:"close_time_consensus_percent"`
	Thresholds                []ThresholdConfig `mapstructure:"thresholds"`
	CloseResolutions          []time.Duration   `mapstructure:"close_resolutions"`
	InitialCloseResolution    time.Duration     `mapstructure:"initial_close_resolution"`
	MaxCloseResolution        time.Duration     `mapstructure:"max_close_resolution"`
	ResolutionIncreaseEvery   uint32            `mapstructure:"resolution_increase_every"`
	ResolutionDecreaseEvery   uint32            `mapstructure:"resolution_decrease_every"`
	ShareDisputes             bool              `mapstructure:"share_disputes"`
}

// ThresholdConfig is one row of the dispute threshold table.
type ThresholdConfig struct {
	Until   float64 `mapstructure:"until"`
	Percent int     `mapstructure:"percent"`
}

// Params converts the section to engine parameters.
func (c ConsensusConfig) Params() consensus.Params {
	p := consensus.Params{
		MinOpenTime:               c.MinOpenTime,
		IdleInterval:              c.IdleInterval,
		MinEstablishTime:          c.MinEstablishTime,
		EstablishTimeout:          c.EstablishTimeout,
		StaleProposalTimeout:      c.StaleProposalTimeout,
		ProposeInterval:           c.ProposeInterval,
		ValidationFreshness:       c.ValidationFreshness,
		MinConsensusPercent:       c.MinConsensusPercent,
		CloseTimeConsensusPercent: c.CloseTimeConsensusPercent,
		CloseResolutions:          append([]time.Duration(nil), c.CloseResolutions...),
		InitialCloseResolution:    c.InitialCloseResolution,
		MaxCloseResolution:        c.MaxCloseResolution,
		ResolutionIncreaseEvery:   c.ResolutionIncreaseEvery,
		ResolutionDecreaseEvery:   c.ResolutionDecreaseEvery,
		ShareDisputes:             c.ShareDisputes,
	}
	for _, t := range c.Thresholds {
		p.Thresholds = append(p.Thresholds, consensus.ThresholdBand{Until: t.Until, Percent: t.Percent})
	}
	if len(p.Thresholds) == 0 {
		p.Thresholds = consensus.DefaultThresholds()
	}
	if len(p.CloseResolutions) == 0 {
		p.CloseResolutions = consensus.DefaultCloseResolutions()
	}
	return p
}

// NodeConfig configures the local validator.
type NodeConfig struct {
	// ValidationSeed derives the validator key. A node without one
	// generates a throwaway key and only observes.
	ValidationSeed string `mapstructure:"validation_seed"`

	// Proposing makes the node send positions when it has a key.
	Proposing bool `mapstructure:"proposing"`

	// TickInterval is how often the engine timer fires.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// QueueSize bounds the inbound message queue.
	QueueSize int `mapstructure:"queue_size"`

	// TxSetCacheSize is the number of transaction sets kept in memory.
	TxSetCacheSize int `mapstructure:"txset_cache_size"`

	// EventBuffer sizes the engine event bus.
	EventBuffer int `mapstructure:"event_buffer"`

	// Ledgers stops the node after this many accepted ledgers. Zero runs
	// until interrupted.
	Ledgers int `mapstructure:"ledgers"`
}

// HistoryConfig configures the round history database.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`

	relationaldb.Config `mapstructure:",squash"`
}

// RPCConfig configures the status and event stream server.
type RPCConfig struct {
	Enabled bool `mapstructure:"enabled"`

	rpc.Config `mapstructure:",squash"`
}

// SimulationConfig configures `rcld simulate`.
type SimulationConfig struct {
	Peers int `mapstructure:"peers"`

	// Topology is "full", "ranked" or "hub".
	Topology string `mapstructure:"topology"`

	// UNLSize is the trusted list size of each peer in a ranked topology.
	UNLSize int `mapstructure:"unl_size"`

	LinkDelay time.Duration `mapstructure:"link_delay"`
	Rounds    int           `mapstructure:"rounds"`
	Seed      int64         `mapstructure:"seed"`

	// TxInterval submits a transaction to a random peer this often.
	TxInterval time.Duration `mapstructure:"tx_interval"`
}

// GetConfigPath returns the main config file path.
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// GetValidatorsPath returns the validators file path.
func (c *Config) GetValidatorsPath() string {
	return c.validatorsPath
}
