package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/8001800/charta/crypto"
)

// Config holds the runtime settings of the settlement daemon. Addresses are
// bech32 strings with the "debt" prefix; empty optional addresses disable the
// corresponding feature.
type Config struct {
	DataDir              string `toml:"DataDir"`
	OperatorKeystorePath string `toml:"OperatorKeystorePath"`
	OwnerAddress         string `toml:"OwnerAddress"`
	PriceFeedOperator    string `toml:"PriceFeedOperator"`
	LogFile              string `toml:"LogFile"`
	LogLevel             string `toml:"LogLevel"`
}

// Load reads the configuration from the given path. A missing file is
// replaced by a freshly written default configuration, including a generated
// operator keystore.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./charta-data"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// Owner decodes the configured owner address.
func (c *Config) Owner() ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(c.OwnerAddress))
	if err != nil {
		return [20]byte{}, fmt.Errorf("config: invalid OwnerAddress: %w", err)
	}
	return addr.Bytes(), nil
}

// PriceFeed decodes the configured price feed operator address. An empty
// setting reports ok=false and disables collateral evaluation.
func (c *Config) PriceFeed() ([20]byte, bool, error) {
	trimmed := strings.TrimSpace(c.PriceFeedOperator)
	if trimmed == "" {
		return [20]byte{}, false, nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, false, fmt.Errorf("config: invalid PriceFeedOperator: %w", err)
	}
	return addr.Bytes(), true, nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:              "./charta-data",
		OperatorKeystorePath: keystorePath,
		OwnerAddress:         key.PubKey().Address().String(),
		LogLevel:             "info",
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
