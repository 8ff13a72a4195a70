package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/storage/nodestore"
	"github.com/LeJamon/rcld/internal/storage/relationaldb"
)

var (
	keyA = "02" + strings.Repeat("a1", 32)
	keyB = "03" + strings.Repeat("b2", 32)
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "rcld.toml", `
validators_file = "unl.txt"

[consensus]
establish_timeout = "20s"
min_consensus_percent = 75
close_resolutions = ["10s", "30s", "60s"]
initial_close_resolution = "10s"
max_close_resolution = "60s"

[[consensus.thresholds]]
until = 0.5
percent = 55

[[consensus.thresholds]]
until = 1.0
percent = 80

[node]
validation_seed = "alice"
tick_interval = "500ms"

[storage]
backend = "leveldb"
path = "/tmp/rcld/nodes"

[history]
driver = "sqlite3"
path = "/tmp/rcld/history.db"

[logging]
level = "debug"

[rpc]
enabled = true
address = "0.0.0.0:7007"
`)
	writeFile(t, dir, "unl.txt", "[validators]\n"+keyA+" # alice\n"+keyB+"\n\n[quorum]\n2\n")

	config, err := LoadConfig(ConfigPaths{Main: main})
	require.NoError(t, err)

	p := config.Consensus.Params()
	assert.Equal(t, 20*time.Second, p.EstablishTimeout)
	assert.Equal(t, 75, p.MinConsensusPercent)
	assert.Equal(t, 2*time.Second, p.MinOpenTime)
	assert.Equal(t, []consensus.ThresholdBand{{Until: 0.5, Percent: 55}, {Until: 1.0, Percent: 80}}, p.Thresholds)
	assert.Equal(t, []time.Duration{10 * time.Second, 30 * time.Second, time.Minute}, p.CloseResolutions)

	assert.Equal(t, "alice", config.Node.ValidationSeed)
	assert.Equal(t, 500*time.Millisecond, config.Node.TickInterval)
	assert.Equal(t, 1024, config.Node.QueueSize)

	assert.Equal(t, nodestore.BackendLevelDB, config.Storage.Backend)
	assert.Equal(t, "lz4", config.Storage.Compressor)
	assert.Equal(t, relationaldb.DriverSQLite, config.History.Driver)
	assert.Equal(t, "/tmp/rcld/history.db", config.History.Path)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.True(t, config.RPC.Enabled)
	assert.Equal(t, "0.0.0.0:7007", config.RPC.Address)
	assert.Equal(t, 256, config.RPC.SendBuffer)

	assert.Equal(t, filepath.Join(dir, "unl.txt"), config.GetValidatorsPath())
	assert.Equal(t, []string{keyA, keyB}, config.Validators.Validators)
	assert.Equal(t, 2, config.Validators.GetQuorum())
	ids, err := config.Validators.NodeIDs()
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, byte(0x02), ids[0][0])
}

func TestLoadDefaults(t *testing.T) {
	config, err := LoadConfig(ConfigPaths{})
	require.NoError(t, err)
	assert.Equal(t, consensus.DefaultParams(), config.Consensus.Params())
	assert.Equal(t, nodestore.BackendPebble, config.Storage.Backend)
	assert.True(t, config.History.Enabled)
	assert.False(t, config.RPC.Enabled)
	assert.Equal(t, "127.0.0.1:6006", config.RPC.Address)
	assert.Equal(t, "full", config.Simulation.Topology)
	assert.False(t, config.Validators.HasValidators())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("RCLD_CONSENSUS_IDLE_INTERVAL", "30s")
	t.Setenv("RCLD_STORAGE_BACKEND", "leveldb")

	config, err := LoadConfig(ConfigPaths{})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, config.Consensus.IdleInterval)
	assert.Equal(t, "leveldb", config.Storage.Backend)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(ConfigPaths{Main: filepath.Join(t.TempDir(), "missing.toml")})
	assert.Error(t, err)

	dir := t.TempDir()
	bad := writeFile(t, dir, "rcld.toml", "[consensus]\nmin_consensus_percent = 40\n")
	_, err = LoadConfig(ConfigPaths{Main: bad})
	assert.ErrorIs(t, err, consensus.ErrInvalidParams)

	bad = writeFile(t, dir, "sim.toml", "[simulation]\ntopology = \"ring\"\n")
	_, err = LoadConfig(ConfigPaths{Main: bad})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "simulation.topology", verr.Field)
}

func TestValidatorsToml(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "validators.toml", "validators = [\""+keyA+"\"]\n")
	config, err := LoadConfig(ConfigPaths{Validators: path})
	require.NoError(t, err)
	assert.Equal(t, []string{keyA}, config.Validators.Validators)
	assert.Equal(t, 1, config.Validators.GetQuorum())
}

func TestValidatorsValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  ValidatorsConfig
		wantErr bool
	}{
		{"empty", ValidatorsConfig{}, false},
		{"valid", ValidatorsConfig{Validators: []string{keyA, keyB}, Quorum: 2}, false},
		{"short key", ValidatorsConfig{Validators: []string{"02ab"}}, true},
		{"not hex", ValidatorsConfig{Validators: []string{"02" + strings.Repeat("zz", 32)}}, true},
		{"uncompressed prefix", ValidatorsConfig{Validators: []string{"04" + strings.Repeat("a1", 32)}}, true},
		{"duplicate", ValidatorsConfig{Validators: []string{keyA, keyA}}, true},
		{"quorum too large", ValidatorsConfig{Validators: []string{keyA}, Quorum: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetQuorum(t *testing.T) {
	keys := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = keyA
		}
		return out
	}
	assert.Equal(t, 0, (&ValidatorsConfig{}).GetQuorum())
	assert.Equal(t, 4, (&ValidatorsConfig{Validators: keys(5)}).GetQuorum())
	assert.Equal(t, 8, (&ValidatorsConfig{Validators: keys(10)}).GetQuorum())
	assert.Equal(t, 3, (&ValidatorsConfig{Validators: keys(3)}).GetQuorum())
}

func TestSaveExampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rcld.toml")
	require.NoError(t, SaveExampleConfig(path))

	config, err := LoadConfig(ConfigPaths{Main: path})
	require.NoError(t, err)
	assert.Equal(t, "change me", config.Node.ValidationSeed)
	assert.Equal(t, consensus.DefaultThresholds(), config.Consensus.Params().Thresholds)
}
