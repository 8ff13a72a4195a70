package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ConfigPaths locates the configuration files.
type ConfigPaths struct {
	// Main is the rcld.toml file. Empty uses defaults and environment only.
	Main string

	// Validators overrides validators_file from the main config.
	Validators string
}

// DefaultConfigPaths returns the default locations.
func DefaultConfigPaths() ConfigPaths {
	return ConfigPaths{Main: "rcld.toml"}
}

// ConfigPathsFromDir returns the paths of the files in dir.
func ConfigPathsFromDir(dir string) ConfigPaths {
	return ConfigPaths{
		Main:       filepath.Join(dir, "rcld.toml"),
		Validators: filepath.Join(dir, "validators.txt"),
	}
}

// LoadConfig loads configuration from multiple sources in priority order:
// 1. Default values
// 2. Configuration file (rcld.toml)
// 3. Environment variables (RCLD_ prefix)
// 4. Validators file
func LoadConfig(paths ConfigPaths) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if paths.Main != "" {
		if err := loadMainConfig(v, paths.Main); err != nil {
			return nil, fmt.Errorf("failed to load main config: %w", err)
		}
	}

	v.SetEnvPrefix("RCLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validatorsPath := resolveValidatorsPath(paths, config.ValidatorsFile)
	validators, err := loadValidatorsConfig(validatorsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load validators config: %w", err)
	}
	config.Validators = *validators

	config.configPath = paths.Main
	config.validatorsPath = validatorsPath

	if err := ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// loadMainConfig loads the main configuration file
func loadMainConfig(v *viper.Viper, configPath string) error {
	v.SetConfigFile(configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	return nil
}

func resolveValidatorsPath(paths ConfigPaths, validatorsFile string) string {
	if paths.Validators != "" {
		return paths.Validators
	}
	if validatorsFile == "" || filepath.IsAbs(validatorsFile) || paths.Main == "" {
		return validatorsFile
	}
	return filepath.Join(filepath.Dir(paths.Main), validatorsFile)
}

// loadValidatorsConfig loads the validators file. A missing file yields an
// empty list.
func loadValidatorsConfig(filePath string) (*ValidatorsConfig, error) {
	if filePath == "" {
		return &ValidatorsConfig{}, nil
	}
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return &ValidatorsConfig{}, nil
	}

	switch filepath.Ext(filePath) {
	case ".toml":
		return loadValidatorsTomlFile(filePath)
	case ".txt":
		return loadValidatorsTxtFile(filePath)
	default:
		return nil, fmt.Errorf("unsupported validators file format: %s (supported: .toml, .txt)", filePath)
	}
}

// loadValidatorsTomlFile loads validators from TOML format
func loadValidatorsTomlFile(filePath string) (*ValidatorsConfig, error) {
	v := viper.New()
	v.SetConfigFile(filePath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read validators file %s: %w", filePath, err)
	}

	var validators ValidatorsConfig
	if err := v.Unmarshal(&validators); err != nil {
		return nil, fmt.Errorf("failed to unmarshal validators config: %w", err)
	}

	return &validators, nil
}

// loadValidatorsTxtFile loads validators from the [validators] section
// format.
func loadValidatorsTxtFile(filePath string) (*ValidatorsConfig, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read validators file %s: %w", filePath, err)
	}

	validators, err := ParseValidatorsTxt(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse validators file %s: %w", filePath, err)
	}

	return validators, nil
}

// LoadConfigFromDir loads configuration from a directory containing both files
func LoadConfigFromDir(configDir string) (*Config, error) {
	return LoadConfig(ConfigPathsFromDir(configDir))
}

// SaveExampleConfig writes an example rcld.toml.
func SaveExampleConfig(configPath string) error {
	v := viper.New()
	setDefaults(v)
	for key, value := range exampleOverrides() {
		v.Set(key, value)
	}

	v.SetConfigFile(configPath)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write example config: %w", err)
	}
	return nil
}

func exampleOverrides() map[string]interface{} {
	return map[string]interface{}{
		"node.validation_seed": "change me",
		"logging.dir":          "./log",
		"consensus.thresholds": []map[string]interface{}{
			{"until": 0.50, "percent": 50},
			{"until": 0.85, "percent": 65},
			{"until": 0.95, "percent": 70},
			{"until": 1.00, "percent": 75},
		},
	}
}
