package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v2"
)

// reading config error is fatal, and exists main thread
func processError(err error) {
	fmt.Println(err)
	os.Exit(2)
}

func readFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func readEnv(cfg *Configuration) error {
	return envconfig.Process("", cfg)
}

// Load reads the yaml file at path and overlays environment variables on top of it.
func Load(path string) (Configuration, error) {
	var cfg Configuration
	if err := readFile(path, &cfg); err != nil {
		return cfg, err
	}
	if err := readEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	for key, chain := range cfg.EVMChains {
		if len(chain.RPCList) == 0 {
			return cfg, fmt.Errorf("evm chain %s has no rpc endpoints", key)
		}
		if chain.ChainID == "" {
			chain.ChainID = key
			cfg.EVMChains[key] = chain
		}
	}
	return cfg, nil
}

func Init() {
	cfg, err := Load("config.yml")
	if err != nil {
		processError(err)
	}
	Config = cfg
}
