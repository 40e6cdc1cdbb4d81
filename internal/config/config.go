package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/adapters/dex"
	"github.com/nexus-trading/swarm/internal/adapters/relay"
	"github.com/nexus-trading/swarm/internal/adapters/underdog"
	"github.com/nexus-trading/swarm/internal/solana"
	"github.com/nexus-trading/swarm/internal/token"
	"github.com/nexus-trading/swarm/internal/venue"
)

// Config is the root configuration structure for swarm.
type Config struct {
	General   GeneralConfig         `yaml:"general"`
	Eclipse   EclipseConfig         `yaml:"eclipse"`
	Scheduler SchedulerConfig       `yaml:"scheduler"`
	Files     FilesConfig           `yaml:"files"`
	Accounts  AccountsConfig        `yaml:"accounts"`
	Tokens    TokensConfig          `yaml:"tokens"`
	Venues    []venue.Venue         `yaml:"venues"`
	Dex       map[string]dex.Config `yaml:"dex"`
	Relay     relay.Config          `yaml:"relay"`
	Underdog  underdog.Config       `yaml:"underdog"`
	Storage   StorageConfig         `yaml:"storage"`
	Metrics   MetricsConfig         `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	DryRun      bool   `yaml:"dry_run"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
	// Module is the venue run when -module is not given.
	Module string `yaml:"module"`
	// Seed fixes the random source. Zero seeds from the clock.
	Seed uint64 `yaml:"seed"`
}

type EclipseConfig struct {
	RPC     solana.RPCConfig     `yaml:"rpc"`
	Confirm solana.ConfirmConfig `yaml:"confirm"`
	// Congestion selects the priority fee percentile: normal|high.
	Congestion string `yaml:"congestion"`
}

type SchedulerConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	AdmissionTimeout time.Duration `yaml:"admission_timeout"`
	RunTimeout       time.Duration `yaml:"run_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
}

type FilesConfig struct {
	Wallets    string `yaml:"wallets"`
	EVMWallets string `yaml:"evm_wallets"`
	Proxies    string `yaml:"proxies"`
}

// RangeConfig is a decimal range written as strings to keep precision.
type RangeConfig struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

type BridgeConfig struct {
	Amount  RangeConfig                     `yaml:"amount"`
	Default *account.WalletBridge           `yaml:"default"`
	Wallets map[string]account.WalletBridge `yaml:"wallets"`
}

type AccountsConfig struct {
	MinActionCount int                    `yaml:"min_action_count"`
	MaxActionCount int                    `yaml:"max_action_count"`
	MinWorkTime    time.Duration          `yaml:"min_work_time"`
	MaxWorkTime    time.Duration          `yaml:"max_work_time"`
	Swap           map[string]RangeConfig `yaml:"swap"` // token class -> range
	MinReserve     string                 `yaml:"min_reserve"`
	Bridge         BridgeConfig           `yaml:"bridge"`
}

type TokensConfig struct {
	Gas  string        `yaml:"gas"`
	List []token.Token `yaml:"list"`
}

type StorageConfig struct {
	ReportDir   string `yaml:"report_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type MetricsConfig struct {
	PrometheusPort int  `yaml:"prometheus_port"`
	Enabled        bool `yaml:"enabled"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "swarm-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}

	rpc := solana.DefaultRPCConfig()
	if cfg.Eclipse.RPC.Endpoint == "" {
		cfg.Eclipse.RPC.Endpoint = rpc.Endpoint
	}
	if cfg.Eclipse.RPC.WSEndpoint == "" {
		cfg.Eclipse.RPC.WSEndpoint = rpc.WSEndpoint
	}
	if cfg.Eclipse.Confirm.WSEndpoint == "" {
		cfg.Eclipse.Confirm.WSEndpoint = cfg.Eclipse.RPC.WSEndpoint
	}
	if cfg.Eclipse.Congestion == "" {
		cfg.Eclipse.Congestion = "normal"
	}

	if cfg.Scheduler.Concurrency == 0 {
		cfg.Scheduler.Concurrency = 5
	}
	if cfg.Scheduler.AdmissionTimeout == 0 {
		cfg.Scheduler.AdmissionTimeout = time.Hour
	}
	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = 3
	}

	if cfg.Files.Wallets == "" {
		cfg.Files.Wallets = "wallets.txt"
	}
	if cfg.Files.EVMWallets == "" {
		cfg.Files.EVMWallets = "evm_wallets.txt"
	}
	if cfg.Files.Proxies == "" {
		cfg.Files.Proxies = "proxy.txt"
	}

	acc := &cfg.Accounts
	if acc.MinActionCount == 0 {
		acc.MinActionCount = 1
	}
	if acc.MaxActionCount == 0 {
		acc.MaxActionCount = acc.MinActionCount
	}
	if acc.MinWorkTime == 0 {
		acc.MinWorkTime = 10 * time.Minute
	}
	if acc.MaxWorkTime == 0 {
		acc.MaxWorkTime = acc.MinWorkTime
	}
	if acc.Swap == nil {
		acc.Swap = map[string]RangeConfig{
			string(token.ClassETH):    {Min: "0.0005", Max: "0.001"},
			string(token.ClassSOL):    {Min: "0.005", Max: "0.01"},
			string(token.ClassStable): {Min: "1", Max: "2"},
		}
	}
	if acc.MinReserve == "" {
		acc.MinReserve = "0.0003"
	}
	if acc.Bridge.Amount.Min == "" {
		acc.Bridge.Amount.Min = "0.001"
	}
	if acc.Bridge.Amount.Max == "" {
		acc.Bridge.Amount.Max = acc.Bridge.Amount.Min
	}

	if cfg.Tokens.Gas == "" {
		cfg.Tokens.Gas = "ETH"
	}
	if len(cfg.Tokens.List) == 0 {
		cfg.Tokens.List = token.EclipseDefaults()
	}
	if len(cfg.Venues) == 0 {
		cfg.Venues = venue.Defaults()
	}

	if cfg.Dex == nil {
		cfg.Dex = map[string]dex.Config{}
	}
	if _, ok := cfg.Dex["dex"]; !ok {
		cfg.Dex["dex"] = dex.Config{}
	}
	for name, dc := range cfg.Dex {
		cfg.Dex[name] = withDexDefaults(dc)
	}

	applyRelayDefaults(&cfg.Relay)

	if cfg.Underdog.APIURL == "" {
		cfg.Underdog.APIURL = "https://api.underdogprotocol.com/v2/collections"
	}
	if cfg.Underdog.ImageAPIURL == "" {
		cfg.Underdog.ImageAPIURL = "https://api.unsplash.com/photos/random?client_id="
	}

	if cfg.Storage.ReportDir == "" {
		cfg.Storage.ReportDir = "reports"
	}
	if cfg.Metrics.PrometheusPort == 0 {
		cfg.Metrics.PrometheusPort = 9090
	}
}

func withDexDefaults(c dex.Config) dex.Config {
	d := dex.DefaultConfig()
	if c.APIURL == "" {
		c.APIURL = d.APIURL
	}
	if c.SlippageBps == 0 {
		c.SlippageBps = d.SlippageBps
	}
	if c.TxVersion == "" {
		c.TxVersion = d.TxVersion
	}
	if c.ComputeUnitPrice == 0 {
		c.ComputeUnitPrice = d.ComputeUnitPrice
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// applyRelayDefaults fills chains missing from the file and keeps
// configured RPC endpoints for the built-in ones.
func applyRelayDefaults(c *relay.Config) {
	d := relay.DefaultConfig()
	if c.APIURL == "" {
		c.APIURL = d.APIURL
	}
	if c.DestinationChainID == 0 {
		c.DestinationChainID = d.DestinationChainID
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.Chains == nil {
		c.Chains = map[string]relay.Chain{}
	}
	for name, def := range d.Chains {
		got, ok := c.Chains[name]
		if !ok {
			c.Chains[name] = def
			continue
		}
		if got.ChainID == 0 {
			got.ChainID = def.ChainID
		}
		if len(got.Currencies) == 0 {
			got.Currencies = def.Currencies
		}
		c.Chains[name] = got
	}
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	var errs []error

	if c.Scheduler.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("scheduler.concurrency must be >= 1, got %d", c.Scheduler.Concurrency))
	}
	if c.Scheduler.AdmissionTimeout < 0 || c.Scheduler.RunTimeout < 0 {
		errs = append(errs, errors.New("scheduler timeouts must not be negative"))
	}
	if c.Accounts.MinActionCount < 1 || c.Accounts.MaxActionCount < c.Accounts.MinActionCount {
		errs = append(errs, fmt.Errorf("accounts: action count range [%d, %d] is invalid",
			c.Accounts.MinActionCount, c.Accounts.MaxActionCount))
	}
	if c.Accounts.MaxWorkTime < c.Accounts.MinWorkTime {
		errs = append(errs, fmt.Errorf("accounts: work time range [%s, %s] is invalid",
			c.Accounts.MinWorkTime, c.Accounts.MaxWorkTime))
	}
	precision := classPrecision(c.Tokens.List)
	for class, rc := range c.Accounts.Swap {
		r, err := rc.parse()
		if err != nil {
			errs = append(errs, fmt.Errorf("accounts.swap.%s: %w", class, err))
			continue
		}
		dec, ok := precision[token.Class(strings.ToLower(class))]
		if ok && !r.Min.Equal(r.Min.Truncate(dec)) {
			errs = append(errs, fmt.Errorf("accounts.swap.%s: min %s has more than %d decimals", class, r.Min, dec))
		}
	}
	if _, err := c.Accounts.Bridge.Amount.parse(); err != nil {
		errs = append(errs, fmt.Errorf("accounts.bridge.amount: %w", err))
	}
	if _, err := decimal.NewFromString(c.Accounts.MinReserve); err != nil {
		errs = append(errs, fmt.Errorf("accounts.min_reserve: %w", err))
	}

	if _, err := token.NewRegistry(c.Tokens.List, c.Tokens.Gas); err != nil {
		errs = append(errs, err)
	}
	if _, err := venue.NewSet(c.Venues); err != nil {
		errs = append(errs, err)
	} else if c.General.Module != "" {
		if err := c.CheckVenue(c.General.Module); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// CheckVenue verifies that name is a configured venue with a usable executor.
// Swap executors other than relay and underdog need a dex entry of the same
// name; venues without one are never mapped onto another venue's API.
func (c *Config) CheckVenue(name string) error {
	set, err := venue.NewSet(c.Venues)
	if err != nil {
		return err
	}
	v, ok := set.Get(name)
	if !ok {
		return fmt.Errorf("module %q is not a configured venue", name)
	}
	switch v.Executor {
	case "relay", "underdog":
		return nil
	}
	if _, ok := c.Dex[v.Executor]; !ok {
		return fmt.Errorf("venue %s: executor %q has no dex config", v.Name, v.Executor)
	}
	return nil
}

// classPrecision maps each class to the fewest decimals among its tokens.
func classPrecision(tokens []token.Token) map[token.Class]int32 {
	out := make(map[token.Class]int32)
	for _, t := range tokens {
		if d, ok := out[t.Class]; !ok || t.Decimals < d {
			out[t.Class] = t.Decimals
		}
	}
	return out
}

func (r RangeConfig) parse() (account.Range, error) {
	lo, err := decimal.NewFromString(r.Min)
	if err != nil {
		return account.Range{}, fmt.Errorf("min: %w", err)
	}
	hi, err := decimal.NewFromString(r.Max)
	if err != nil {
		return account.Range{}, fmt.Errorf("max: %w", err)
	}
	if lo.IsNegative() || hi.LessThan(lo) {
		return account.Range{}, fmt.Errorf("range [%s, %s] is invalid", lo, hi)
	}
	return account.Range{Min: lo, Max: hi}, nil
}

// FactoryConfig converts the accounts section for account.NewFactory.
func (c *Config) FactoryConfig() (account.FactoryConfig, error) {
	swap := make(map[token.Class]account.Range, len(c.Accounts.Swap))
	for class, rc := range c.Accounts.Swap {
		r, err := rc.parse()
		if err != nil {
			return account.FactoryConfig{}, fmt.Errorf("accounts.swap.%s: %w", class, err)
		}
		swap[token.Class(strings.ToLower(class))] = r
	}
	bridge, err := c.Accounts.Bridge.Amount.parse()
	if err != nil {
		return account.FactoryConfig{}, fmt.Errorf("accounts.bridge.amount: %w", err)
	}
	reserve, err := decimal.NewFromString(c.Accounts.MinReserve)
	if err != nil {
		return account.FactoryConfig{}, fmt.Errorf("accounts.min_reserve: %w", err)
	}
	return account.FactoryConfig{
		MinActionCount: c.Accounts.MinActionCount,
		MaxActionCount: c.Accounts.MaxActionCount,
		MinWorkTime:    c.Accounts.MinWorkTime,
		MaxWorkTime:    c.Accounts.MaxWorkTime,
		Swap:           swap,
		MinReserve:     reserve,
		BridgeAmount:   bridge,
		DefaultBridge:  c.Accounts.Bridge.Default,
		Bridges:        c.Accounts.Bridge.Wallets,
		ChainIDs:       c.Relay.ChainIDs(),
	}, nil
}

// ReadLines returns the non-empty, non-comment lines of path.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

// ReadOptionalLines is ReadLines that treats a missing file as empty.
func ReadOptionalLines(path string) ([]string, error) {
	lines, err := ReadLines(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return lines, err
}
