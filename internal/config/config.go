package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"

	"commodrails/internal/escrow"
)

// GenesisConfig models genesis.json (or genesis.toml).
type GenesisConfig struct {
	TotalSupply      string `json:"totalSupply" toml:"totalSupply"`
	GenesisAccount   string `json:"genesisAccount" toml:"genesisAccount"`
	CustodianAccount string `json:"custodianAccount" toml:"custodianAccount"`
	CustodianLabel   string `json:"custodianLabel" toml:"custodianLabel"`
	InitialBlock     uint64 `json:"initialBlock" toml:"initialBlock"`
}

// AppConfig ties together genesis and environment-derived values.
type AppConfig struct {
	Genesis GenesisConfig
	Service ServiceConfig
	Chain   ChainConfig
	Retry   RetryConfig
}

type ServiceConfig struct {
	HTTPPort               int           `env:"API_HTTP_PORT" envDefault:"3000"`
	HMACSecret             string        `env:"HMAC_SECRET"`
	HMACClockSkew          time.Duration `env:"HMAC_CLOCK_SKEW" envDefault:"60s"`
	IdempotencyWindow      time.Duration `env:"IDEMPOTENCY_WINDOW" envDefault:"24h"`
	IdempotencyStorePath   string        `env:"IDEMPOTENCY_STORE_PATH"`
	IdempotencyPostgresDSN string        `env:"IDEMPOTENCY_POSTGRES_DSN"`
	IncidentPath           string        `env:"INCIDENT_PATH"`
	RateLimitPerMinute     float64       `env:"RATE_LIMIT_PER_MINUTE" envDefault:"600"`
	RateLimitBurst         int           `env:"RATE_LIMIT_BURST" envDefault:"60"`
	EventFeedSize          int           `env:"EVENT_FEED_SIZE" envDefault:"1024"`
	LogLevel               string        `env:"LOG_LEVEL" envDefault:"info"`
	Env                    string        `env:"APP_ENV"`
}

// ChainConfig selects the block source. An empty RPCURL runs on a manual
// clock starting at the genesis initial block.
type ChainConfig struct {
	RPCURL string `env:"CHAIN_RPC_URL"`
}

// RetryConfig bounds retries of block height reads against the RPC node.
type RetryConfig struct {
	MaxAttempts       int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	InitialBackoff    time.Duration `env:"RETRY_INITIAL_BACKOFF" envDefault:"200ms"`
	MaxBackoff        time.Duration `env:"RETRY_MAX_BACKOFF" envDefault:"2s"`
	BackoffMultiplier int           `env:"RETRY_BACKOFF_MULTIPLIER" envDefault:"2"`
}

const defaultGenesisPath = "genesis.json"

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	genesisPath := envOr("GENESIS_PATH", defaultGenesisPath)

	genesisCfg, err := LoadGenesis(genesisPath)
	if err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}

	serviceCfg, err := env.ParseAs[ServiceConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse service env: %w", err)
	}
	if serviceCfg.IdempotencyStorePath == "" {
		serviceCfg.IdempotencyStorePath = filepath.Join(os.TempDir(), "commodrails-idem.json")
	}

	chainCfg, err := env.ParseAs[ChainConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse chain env: %w", err)
	}

	retryCfg, err := env.ParseAs[RetryConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse retry env: %w", err)
	}

	return &AppConfig{
		Genesis: *genesisCfg,
		Service: serviceCfg,
		Chain:   chainCfg,
		Retry:   retryCfg,
	}, nil
}

// LoadGenesis reads and validates a genesis file. Files ending in .toml are
// decoded as TOML, everything else as JSON.
func LoadGenesis(path string) (*GenesisConfig, error) {
	var cfg GenesisConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	} else {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (g GenesisConfig) Validate() error {
	if _, err := g.Supply(); err != nil {
		return err
	}
	if !common.IsHexAddress(g.GenesisAccount) {
		return errors.New("genesisAccount must be a hex address")
	}
	if g.CustodianAccount != "" && !common.IsHexAddress(g.CustodianAccount) {
		return errors.New("custodianAccount must be a hex address")
	}
	if g.CustodianAccount == "" && strings.TrimSpace(g.CustodianLabel) == "" {
		return errors.New("one of custodianAccount or custodianLabel is required")
	}
	if g.Custodian() == g.Genesis() {
		return errors.New("custodian must differ from the genesis account")
	}
	return nil
}

// Supply parses the configured total supply.
func (g GenesisConfig) Supply() (escrow.Amount, error) {
	if strings.TrimSpace(g.TotalSupply) == "" {
		return escrow.Amount{}, errors.New("totalSupply is required")
	}
	supply, err := escrow.ParseAmount(strings.TrimSpace(g.TotalSupply))
	if err != nil {
		return escrow.Amount{}, fmt.Errorf("totalSupply: %w", err)
	}
	return supply, nil
}

func (g GenesisConfig) Genesis() common.Address {
	return common.HexToAddress(g.GenesisAccount)
}

// Custodian returns the explicit custodian account, or the one derived from
// CustodianLabel.
func (g GenesisConfig) Custodian() common.Address {
	if g.CustodianAccount != "" {
		return common.HexToAddress(g.CustodianAccount)
	}
	return escrow.DeriveCustodian(g.CustodianLabel)
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}
