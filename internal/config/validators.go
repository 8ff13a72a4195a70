package config

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/crypto"
)

// ValidatorsConfig lists the trusted validators by public key.
type ValidatorsConfig struct {
	// Validators are hex encoded compressed secp256k1 public keys.
	Validators []string `mapstructure:"validators"`

	// Quorum overrides the number of validations needed to fully
	// validate a ledger. Zero derives it from the list size.
	Quorum int `mapstructure:"quorum"`
}

// Validate performs validation on the validators configuration
func (v *ValidatorsConfig) Validate() error {
	seen := make(map[string]struct{}, len(v.Validators))
	for i, validator := range v.Validators {
		if err := validateValidatorKey(validator); err != nil {
			return fmt.Errorf("invalid validator at index %d: %w", i, err)
		}
		key := strings.ToUpper(validator)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("validator at index %d is listed twice", i)
		}
		seen[key] = struct{}{}
	}
	if v.Quorum < 0 {
		return fmt.Errorf("quorum must be non-negative, got %d", v.Quorum)
	}
	if v.Quorum > len(v.Validators) {
		return fmt.Errorf("quorum (%d) cannot be greater than number of validators (%d)", v.Quorum, len(v.Validators))
	}
	return nil
}

// GetQuorum returns the effective quorum: the override, or 80% of the
// list rounded up.
func (v *ValidatorsConfig) GetQuorum() int {
	if v.Quorum > 0 {
		return v.Quorum
	}
	n := len(v.Validators)
	if n == 0 {
		return 0
	}
	return (n*80 + 99) / 100
}

// HasValidators returns true if any validators are configured
func (v *ValidatorsConfig) HasValidators() bool {
	return len(v.Validators) > 0
}

// NodeIDs decodes the validator keys.
func (v *ValidatorsConfig) NodeIDs() ([]consensus.NodeID, error) {
	ids := make([]consensus.NodeID, 0, len(v.Validators))
	for i, s := range v.Validators {
		b, err := hex.DecodeString(s)
		if err != nil || len(b) != crypto.PublicKeySize {
			return nil, fmt.Errorf("invalid validator at index %d", i)
		}
		var id consensus.NodeID
		copy(id[:], b)
		ids = append(ids, id)
	}
	return ids, nil
}

func validateValidatorKey(key string) error {
	if len(key) != 2*crypto.PublicKeySize {
		return fmt.Errorf("public key must be %d hex characters, got %d", 2*crypto.PublicKeySize, len(key))
	}
	b, err := hex.DecodeString(key)
	if err != nil {
		return fmt.Errorf("public key is not hex: %w", err)
	}
	if b[0] != 0x02 && b[0] != 0x03 {
		return fmt.Errorf("public key must be compressed (02 or 03 prefix)")
	}
	return nil
}

// ParseValidatorsTxt parses a validators.txt file: one key per line under
// [validators], and an optional [quorum] section.
func ParseValidatorsTxt(content string) (*ValidatorsConfig, error) {
	config := &ValidatorsConfig{}
	currentSection := ""

	for n, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentSection = strings.Trim(line, "[]")
			continue
		}

		switch currentSection {
		case "validators":
			// a key may be followed by a comment
			config.Validators = append(config.Validators, strings.Fields(line)[0])
		case "quorum":
			q, err := strconv.Atoi(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid quorum %q", n+1, line)
			}
			config.Quorum = q
		}
	}

	return config, nil
}
