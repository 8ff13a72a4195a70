package config

import (
	"fmt"
)

// ValidationError names the offending key.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig performs validation on the complete configuration
func ValidateConfig(config *Config) error {
	if err := config.Consensus.Params().Validate(); err != nil {
		return fmt.Errorf("consensus config validation failed: %w", err)
	}
	if err := config.Node.Validate(); err != nil {
		return fmt.Errorf("node config validation failed: %w", err)
	}
	if err := config.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config validation failed: %w", err)
	}
	if config.History.Enabled {
		if err := config.History.Config.Validate(); err != nil {
			return fmt.Errorf("history config validation failed: %w", err)
		}
	}
	if err := validateLogging(config); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}
	if config.RPC.Enabled && config.RPC.Address == "" {
		return &ValidationError{Field: "rpc.address", Message: "required when rpc is enabled"}
	}
	if err := config.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation config validation failed: %w", err)
	}
	if err := config.Validators.Validate(); err != nil {
		return fmt.Errorf("validators validation failed: %w", err)
	}
	return nil
}

// Validate checks the node section.
func (n *NodeConfig) Validate() error {
	if n.TickInterval <= 0 {
		return &ValidationError{Field: "node.tick_interval", Message: "must be positive"}
	}
	if n.QueueSize <= 0 {
		return &ValidationError{Field: "node.queue_size", Message: "must be positive"}
	}
	if n.TxSetCacheSize <= 0 {
		return &ValidationError{Field: "node.txset_cache_size", Message: "must be positive"}
	}
	if n.Ledgers < 0 {
		return &ValidationError{Field: "node.ledgers", Message: "must be non-negative"}
	}
	return nil
}

// Validate checks the simulation section.
func (s *SimulationConfig) Validate() error {
	if s.Peers <= 0 {
		return &ValidationError{Field: "simulation.peers", Message: "must be positive"}
	}
	switch s.Topology {
	case "full", "hub":
	case "ranked":
		if s.UNLSize <= 0 || s.UNLSize > s.Peers {
			return &ValidationError{Field: "simulation.unl_size", Message: fmt.Sprintf("must be in [1,%d]", s.Peers)}
		}
	default:
		return &ValidationError{Field: "simulation.topology", Message: fmt.Sprintf("unknown topology %q", s.Topology)}
	}
	if s.LinkDelay < 0 {
		return &ValidationError{Field: "simulation.link_delay", Message: "must be non-negative"}
	}
	if s.Rounds <= 0 {
		return &ValidationError{Field: "simulation.rounds", Message: "must be positive"}
	}
	if s.TxInterval < 0 {
		return &ValidationError{Field: "simulation.tx_interval", Message: "must be non-negative"}
	}
	return nil
}

func validateLogging(config *Config) error {
	switch config.Logging.Format {
	case "", "text", "json":
	default:
		return &ValidationError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", config.Logging.Format)}
	}
	switch config.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return &ValidationError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", config.Logging.Level)}
	}
	return nil
}
