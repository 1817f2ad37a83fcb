package config

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/gurufinglobal/attestor/attestor/types"
)

const EnvPrefix = "ATTESTORD"

// DefaultHDPath is the first Ethereum account of a BIP-44 wallet.
const DefaultHDPath = "m/44'/60'/0'/0/0"

const (
	InFlightWait   = "wait"
	InFlightReject = "reject"

	SourceWeather = "weather"
	SourceStatic  = "static"
)

type Config struct {
	Log          LogConfig               `mapstructure:"log" toml:"log"`
	Source       SourceConfig            `mapstructure:"source" toml:"source"`
	Verifier     VerifierConfig          `mapstructure:"verifier" toml:"verifier"`
	Chain        ChainConfig             `mapstructure:"chain" toml:"chain"`
	Key          KeyConfig               `mapstructure:"key" toml:"key"`
	Orchestrator OrchestratorConfig      `mapstructure:"orchestrator" toml:"orchestrator"`
	Gateway      GatewayConfig           `mapstructure:"gateway" toml:"gateway"`
	Telemetry    TelemetryConfig         `mapstructure:"telemetry" toml:"telemetry"`
	Actions      map[string]ActionConfig `mapstructure:"actions" toml:"actions"`
}

type LogConfig struct {
	Level string `mapstructure:"level" toml:"level" comment:"trace, debug, info, warn, error"`
}

type SourceConfig struct {
	BaseURL    string `mapstructure:"base_url" toml:"base_url" comment:"Weather API endpoint"`
	APIKey     string `mapstructure:"api_key" toml:"api_key" comment:"Weather API key (never logged)"`
	City       string `mapstructure:"city" toml:"city"`
	Units      string `mapstructure:"units" toml:"units" comment:"metric, imperial or standard"`
	TimeoutSec int    `mapstructure:"timeout_sec" toml:"timeout_sec"`
}

type VerifierConfig struct {
	BaseURL         string `mapstructure:"base_url" toml:"base_url"`
	APIKey          string `mapstructure:"api_key" toml:"api_key"`
	AttestationType string `mapstructure:"attestation_type" toml:"attestation_type"`
	SourceID        string `mapstructure:"source_id" toml:"source_id"`
	TimeoutSec      int    `mapstructure:"timeout_sec" toml:"timeout_sec"`
	MaxAttempts     int    `mapstructure:"max_attempts" toml:"max_attempts" comment:"Prepare attempts on transport failure"`
	RetryDelayMs    int    `mapstructure:"retry_delay_ms" toml:"retry_delay_ms" comment:"First retry delay, doubled per attempt"`
	MaxRetryDelayMs int    `mapstructure:"max_retry_delay_ms" toml:"max_retry_delay_ms"`
}

type ChainConfig struct {
	Endpoint      string `mapstructure:"endpoint" toml:"endpoint" comment:"EVM JSON-RPC endpoint"`
	ChainID       uint64 `mapstructure:"chain_id" toml:"chain_id"`
	HubAddress    string `mapstructure:"hub_address" toml:"hub_address" comment:"Attestation hub contract"`
	LedgerAddress string `mapstructure:"ledger_address" toml:"ledger_address" comment:"User action ledger contract"`
	Fee           string `mapstructure:"fee" toml:"fee" comment:"Hub fee in wei (decimal)"`
	GasLimit      uint64 `mapstructure:"gas_limit" toml:"gas_limit" comment:"0 estimates gas per transaction"`
	TimeoutSec    int    `mapstructure:"timeout_sec" toml:"timeout_sec"`

	AwaitConfirmation      bool `mapstructure:"await_confirmation" toml:"await_confirmation" comment:"Wait for the hub receipt before recording"`
	ConfirmationTimeoutSec int  `mapstructure:"confirmation_timeout_sec" toml:"confirmation_timeout_sec"`
}

type KeyConfig struct {
	PrivateKey   string `mapstructure:"private_key" toml:"private_key" comment:"Hex private key of the relayer"`
	KeystoreFile string `mapstructure:"keystore_file" toml:"keystore_file" comment:"Alternative to private_key"`
	Passphrase   string `mapstructure:"passphrase" toml:"passphrase"`
	Mnemonic     string `mapstructure:"mnemonic" toml:"mnemonic" comment:"BIP-39 mnemonic, alternative to private_key"`
	HDPath       string `mapstructure:"hd_path" toml:"hd_path"`
}

type OrchestratorConfig struct {
	InFlightPolicy       string `mapstructure:"in_flight_policy" toml:"in_flight_policy" comment:"wait or reject"`
	DirectRecordFallback bool   `mapstructure:"direct_record_fallback" toml:"direct_record_fallback" comment:"Record directly when the hub path fails"`
}

type GatewayConfig struct {
	Listen          string   `mapstructure:"listen" toml:"listen"`
	CORSOrigins     []string `mapstructure:"cors_origins" toml:"cors_origins"`
	ReadTimeoutSec  int      `mapstructure:"read_timeout_sec" toml:"read_timeout_sec"`
	WriteTimeoutSec int      `mapstructure:"write_timeout_sec" toml:"write_timeout_sec"`
	MaxConnections  int      `mapstructure:"max_connections" toml:"max_connections" comment:"0 disables the limit"`
	RateLimitRPS    float64  `mapstructure:"rate_limit_rps" toml:"rate_limit_rps" comment:"Per-client requests per second, 0 disables"`
	RateLimitBurst  int      `mapstructure:"rate_limit_burst" toml:"rate_limit_burst"`
}

type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled" toml:"enabled" comment:"Serve in-memory metrics at /metrics"`
	IntervalSec int  `mapstructure:"interval_sec" toml:"interval_sec"`
	RetainSec   int  `mapstructure:"retain_sec" toml:"retain_sec"`
}

type ActionConfig struct {
	Source      string  `mapstructure:"source" toml:"source" comment:"weather or static"`
	Threshold   float64 `mapstructure:"threshold" toml:"threshold"`
	Comparison  string  `mapstructure:"comparison" toml:"comparison" comment:"gt, gte, lt or lte"`
	Unit        string  `mapstructure:"unit" toml:"unit"`
	StaticValue float64 `mapstructure:"static_value" toml:"static_value"`
}

func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Source: SourceConfig{
			BaseURL:    "https://api.openweathermap.org/data/2.5/weather",
			City:       "London",
			Units:      "metric",
			TimeoutSec: 10,
		},
		Verifier: VerifierConfig{
			BaseURL:         "https://fdc-verifiers-testnet.flare.network",
			AttestationType: "Web2Json",
			SourceID:        "PublicWeb2",
			TimeoutSec:      15,
			MaxAttempts:     3,
			RetryDelayMs:    500,
			MaxRetryDelayMs: 5000,
		},
		Chain: ChainConfig{
			Endpoint:               "https://coston2-api.flare.network/ext/C/rpc",
			ChainID:                114,
			Fee:                    "1000000000000000000",
			TimeoutSec:             20,
			ConfirmationTimeoutSec: 60,
		},
		Key: KeyConfig{
			HDPath: DefaultHDPath,
		},
		Orchestrator: OrchestratorConfig{
			InFlightPolicy: InFlightReject,
		},
		Gateway: GatewayConfig{
			Listen:          ":8080",
			CORSOrigins:     []string{"*"},
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 120,
			MaxConnections:  256,
			RateLimitRPS:    5,
			RateLimitBurst:  10,
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			IntervalSec: 10,
			RetainSec:   60,
		},
		Actions: map[string]ActionConfig{
			"temperature-over-threshold": {
				Source:     SourceWeather,
				Threshold:  15,
				Comparison: "gt",
				Unit:       "celsius",
			},
			"sustainable-transport-distance": {
				Source:      SourceStatic,
				Threshold:   5,
				Comparison:  "gte",
				Unit:        "km",
				StaticValue: 7.5,
			},
		},
	}
}

func LoadFile(path string) (*Config, error) {
	if st, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", os.ErrNotExist, path)
		}
		return nil, fmt.Errorf("stat config file: %w", err)
	} else if st.IsDir() {
		return nil, fmt.Errorf("config path is a directory: %s", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	// Actions are opt-in: only the ones present in the file are supported.
	cfg.Actions = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports the first configuration problem. It is run once at startup.
func (c *Config) Validate() error {
	if c.Chain.Endpoint == "" {
		return errorsmod.Wrap(types.ErrConfiguration, "chain.endpoint is required")
	}
	if c.Chain.ChainID == 0 {
		return errorsmod.Wrap(types.ErrConfiguration, "chain.chain_id must be > 0")
	}
	if !common.IsHexAddress(c.Chain.HubAddress) {
		return errorsmod.Wrapf(types.ErrConfiguration, "chain.hub_address is not a hex address: %q", c.Chain.HubAddress)
	}
	if !common.IsHexAddress(c.Chain.LedgerAddress) {
		return errorsmod.Wrapf(types.ErrConfiguration, "chain.ledger_address is not a hex address: %q", c.Chain.LedgerAddress)
	}
	if _, err := parseFee(c.Chain.Fee); err != nil {
		return err
	}
	if c.Chain.TimeoutSec <= 0 {
		return errorsmod.Wrap(types.ErrConfiguration, "chain.timeout_sec must be > 0")
	}
	if c.Chain.AwaitConfirmation && c.Chain.ConfirmationTimeoutSec <= 0 {
		return errorsmod.Wrap(types.ErrConfiguration, "chain.confirmation_timeout_sec must be > 0")
	}

	if c.Key.PrivateKey == "" && c.Key.KeystoreFile == "" && c.Key.Mnemonic == "" {
		return errorsmod.Wrap(types.ErrConfiguration, "one of key.private_key, key.keystore_file or key.mnemonic is required")
	}

	if _, err := url.ParseRequestURI(c.Verifier.BaseURL); err != nil {
		return errorsmod.Wrapf(types.ErrConfiguration, "verifier.base_url is invalid: %v", err)
	}
	if c.Verifier.APIKey == "" {
		return errorsmod.Wrap(types.ErrConfiguration, "verifier.api_key is required")
	}
	if c.Verifier.AttestationType == "" || c.Verifier.SourceID == "" {
		return errorsmod.Wrap(types.ErrConfiguration, "verifier.attestation_type and verifier.source_id are required")
	}
	if len(c.Verifier.AttestationType) > 32 || len(c.Verifier.SourceID) > 32 {
		return errorsmod.Wrap(types.ErrConfiguration, "verifier.attestation_type and verifier.source_id must fit in 32 bytes")
	}
	if c.Verifier.MaxAttempts < 1 {
		return errorsmod.Wrap(types.ErrConfiguration, "verifier.max_attempts must be >= 1")
	}
	if c.Verifier.TimeoutSec <= 0 {
		return errorsmod.Wrap(types.ErrConfiguration, "verifier.timeout_sec must be > 0")
	}

	switch c.Orchestrator.InFlightPolicy {
	case InFlightWait, InFlightReject:
	default:
		return errorsmod.Wrapf(types.ErrConfiguration, "orchestrator.in_flight_policy must be %q or %q, got %q",
			InFlightWait, InFlightReject, c.Orchestrator.InFlightPolicy)
	}

	if c.Gateway.MaxConnections < 0 {
		return errorsmod.Wrap(types.ErrConfiguration, "gateway.max_connections must be >= 0")
	}
	if c.Gateway.RateLimitRPS < 0 {
		return errorsmod.Wrap(types.ErrConfiguration, "gateway.rate_limit_rps must be >= 0")
	}
	if c.Gateway.RateLimitRPS > 0 && c.Gateway.RateLimitBurst < 1 {
		return errorsmod.Wrap(types.ErrConfiguration, "gateway.rate_limit_burst must be >= 1 when rate limiting is on")
	}
	if c.Gateway.WriteTimeoutSec > 0 && c.Gateway.WriteTimeout() < c.RunBudget() {
		return errorsmod.Wrapf(types.ErrConfiguration,
			"gateway.write_timeout_sec (%s) is shorter than the slowest possible run (%s)",
			c.Gateway.WriteTimeout(), c.RunBudget())
	}
	if c.Telemetry.Enabled && (c.Telemetry.IntervalSec <= 0 || c.Telemetry.RetainSec < c.Telemetry.IntervalSec) {
		return errorsmod.Wrap(types.ErrConfiguration, "telemetry.retain_sec must be >= telemetry.interval_sec > 0")
	}

	if len(c.Actions) == 0 {
		return errorsmod.Wrap(types.ErrConfiguration, "at least one [actions.<name>] table is required")
	}
	for name, action := range c.Actions {
		if err := action.validate(name, c.Source); err != nil {
			return err
		}
	}

	return nil
}

// RunBudget is the longest a single run can take when every call uses its full
// timeout: one fetch, every verifier attempt with its retry waits at +10% jitter,
// the hub submission, the optional confirmation wait and the ledger write.
func (c *Config) RunBudget() time.Duration {
	total := c.Source.Timeout() + 2*c.Chain.Timeout()
	total += time.Duration(c.Verifier.MaxAttempts) * c.Verifier.Timeout()

	wait, ceiling := c.Verifier.RetryDelay(), c.Verifier.MaxRetryDelay()
	if ceiling < wait {
		ceiling = wait
	}
	for range c.Verifier.MaxAttempts - 1 {
		total += min(wait, ceiling) * 11 / 10
		if wait < ceiling {
			wait *= 2
		}
	}

	if c.Chain.AwaitConfirmation {
		total += c.Chain.ConfirmationTimeout()
	}
	return total
}

func (a ActionConfig) validate(name string, src SourceConfig) error {
	switch a.Comparison {
	case "gt", "gte", "lt", "lte":
	default:
		return errorsmod.Wrapf(types.ErrConfiguration, "actions.%s.comparison is invalid: %q", name, a.Comparison)
	}

	switch a.Source {
	case SourceWeather:
		if src.APIKey == "" {
			return errorsmod.Wrapf(types.ErrConfiguration, "actions.%s uses the weather source but source.api_key is empty", name)
		}
		if _, err := url.ParseRequestURI(src.BaseURL); err != nil {
			return errorsmod.Wrapf(types.ErrConfiguration, "source.base_url is invalid: %v", err)
		}
		if src.TimeoutSec <= 0 {
			return errorsmod.Wrap(types.ErrConfiguration, "source.timeout_sec must be > 0")
		}
	case SourceStatic:
	default:
		return errorsmod.Wrapf(types.ErrConfiguration, "actions.%s.source is invalid: %q", name, a.Source)
	}
	return nil
}

// FeeWei returns the configured hub fee. Callers must have run Validate.
func (c *Config) FeeWei() *big.Int {
	fee, err := parseFee(c.Chain.Fee)
	if err != nil {
		return new(big.Int)
	}
	return fee
}

func parseFee(s string) (*big.Int, error) {
	fee, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrConfiguration, "chain.fee must be a decimal wei amount: %v", err)
	}
	return fee.ToBig(), nil
}

func (c *Config) HubAddress() common.Address    { return common.HexToAddress(c.Chain.HubAddress) }
func (c *Config) LedgerAddress() common.Address { return common.HexToAddress(c.Chain.LedgerAddress) }

func (c SourceConfig) Timeout() time.Duration   { return seconds(c.TimeoutSec) }
func (c VerifierConfig) Timeout() time.Duration { return seconds(c.TimeoutSec) }
func (c ChainConfig) Timeout() time.Duration    { return seconds(c.TimeoutSec) }

func (c ChainConfig) ConfirmationTimeout() time.Duration { return seconds(c.ConfirmationTimeoutSec) }

func (c VerifierConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c VerifierConfig) MaxRetryDelay() time.Duration {
	return time.Duration(c.MaxRetryDelayMs) * time.Millisecond
}

func (c GatewayConfig) ReadTimeout() time.Duration  { return seconds(c.ReadTimeoutSec) }
func (c GatewayConfig) WriteTimeout() time.Duration { return seconds(c.WriteTimeoutSec) }

func (c TelemetryConfig) Interval() time.Duration { return seconds(c.IntervalSec) }
func (c TelemetryConfig) Retain() time.Duration   { return seconds(c.RetainSec) }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// WriteDefaultFile writes Default() to path. Secrets are left empty.
func WriteDefaultFile(path string) error {
	cfg := Default()
	body, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	header := []byte("# Attestation Relay Daemon Configuration\n# Secrets may be supplied as ATTESTORD_<SECTION>_<KEY> environment variables.\n\n")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, append(header, body...), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
