package daemon

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/ethclient"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/gurufinglobal/attestor/attestor/catalog"
	"github.com/gurufinglobal/attestor/attestor/config"
	"github.com/gurufinglobal/attestor/attestor/gateway"
	"github.com/gurufinglobal/attestor/attestor/orchestrator"
	"github.com/gurufinglobal/attestor/attestor/predicate"
	"github.com/gurufinglobal/attestor/attestor/source"
	"github.com/gurufinglobal/attestor/attestor/submitter"
	"github.com/gurufinglobal/attestor/attestor/types"
	"github.com/gurufinglobal/attestor/attestor/verifier"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	shutdownTimeout    = 10 * time.Second
	trackerLimit       = 8
)

type Daemon struct {
	cfg     *config.Config
	homeDir string
	logger  log.Logger

	eth       *ethclient.Client
	submitter *submitter.Submitter
	catalog   *catalog.Catalog
	orch      *orchestrator.Orchestrator
	health    *chainHealth
	gateway   *gateway.Server

	runMu   sync.Mutex
	tracker *Tracker
	done    chan struct{}
}

func New(cfg *config.Config, homeDir string) (*Daemon, error) {
	if strings.TrimSpace(homeDir) == "" {
		return nil, fmt.Errorf("home directory is empty")
	}
	if cfg == nil {
		return nil, errorsmod.Wrap(types.ErrConfiguration, "config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	keyCfg := cfg.Key
	if keyCfg.KeystoreFile != "" && !filepath.IsAbs(keyCfg.KeystoreFile) {
		keyCfg.KeystoreFile = filepath.Join(homeDir, keyCfg.KeystoreFile)
	}
	key, err := submitter.LoadKey(keyCfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Chain.Timeout())
	defer cancel()

	eth, err := ethclient.DialContext(ctx, cfg.Chain.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial chain endpoint: %w", err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	if chainID.Uint64() != cfg.Chain.ChainID {
		eth.Close()
		return nil, errorsmod.Wrapf(types.ErrConfiguration, "endpoint serves chain %s, config expects %d", chainID, cfg.Chain.ChainID)
	}

	sink, err := newTelemetry(cfg.Telemetry)
	if err != nil {
		eth.Close()
		return nil, err
	}

	d, err := assemble(cfg, homeDir, logger, eth, chainID, key, sink)
	if err != nil {
		eth.Close()
		return nil, err
	}
	d.eth = eth
	return d, nil
}

// assemble builds every component on top of an already connected chain backend.
// A nil sink leaves /metrics unregistered.
func assemble(cfg *config.Config, homeDir string, logger log.Logger, backend submitter.Backend, chainID *big.Int, key *ecdsa.PrivateKey, sink *metrics.InmemSink) (*Daemon, error) {
	httpClient := &http.Client{Timeout: defaultHTTPTimeout}

	cat, err := NewCatalog(cfg, logger, httpClient)
	if err != nil {
		return nil, err
	}
	evaluator, err := predicate.NewEvaluator(cat.Rules())
	if err != nil {
		return nil, err
	}

	enc := verifier.New(logger, httpClient, cfg.Verifier.BaseURL, cfg.Verifier.APIKey)

	sub, err := submitter.New(logger, backend, key, chainID, cfg.HubAddress(), cfg.LedgerAddress(), cfg.Chain.GasLimit)
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(logger, cat, evaluator, enc, sub, orchestrator.OptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}

	for _, def := range cat.Definitions() {
		logger.Info("action enabled",
			"action", def.Name,
			"action_type", def.ActionType.Hex(),
			"rule", def.Rule.String(),
			"source", def.Source.ID(),
			"url", def.Query.RedactedURL(),
		)
	}
	logger.Info("relayer account", "address", sub.Address().Hex(), "chain_id", chainID.String())

	health := newChainHealth(logger, backend)
	gwOpts := gateway.OptionsFromConfig(cfg.Gateway)
	gwOpts.Health = health
	if sink != nil {
		gwOpts.Metrics = sink
	}

	return &Daemon{
		cfg:       cfg,
		homeDir:   homeDir,
		logger:    logger,
		submitter: sub,
		catalog:   cat,
		orch:      orch,
		health:    health,
		gateway:   gateway.New(logger, orch, cat, gwOpts),
	}, nil
}

// NewCatalog registers the built-in fact sources and resolves every configured action.
// Nothing is fetched.
func NewCatalog(cfg *config.Config, logger log.Logger, httpClient *http.Client) (*catalog.Catalog, error) {
	registry, err := source.NewRegistry(logger,
		source.NewHTTPSource(config.SourceWeather, logger, httpClient),
		source.NewStaticSource(config.SourceStatic),
	)
	if err != nil {
		return nil, fmt.Errorf("init source registry: %w", err)
	}
	return catalog.New(cfg, registry)
}

// newTelemetry installs an in-memory sink as the process-wide metrics sink.
func newTelemetry(cfg config.TelemetryConfig) (*metrics.InmemSink, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	sink := metrics.NewInmemSink(cfg.Interval(), cfg.Retain())
	mcfg := metrics.DefaultConfig("attestord")
	mcfg.EnableHostname = false
	if _, err := metrics.NewGlobal(mcfg, sink); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return sink, nil
}

func newLogger(level string) (log.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return nil, errorsmod.Wrapf(types.ErrConfiguration, "log.level: %v", err)
		}
		lvl = parsed
	}
	return log.NewLogger(
		os.Stdout,
		log.LevelOption(lvl),
		log.TimeFormatOption(time.RFC3339),
		log.OutputJSONOption(),
	), nil
}

// Start binds the gateway listener and serves until ctx is done. Bind errors are returned
// directly; Done is closed once the server has shut down and tracked receipts have settled.
func (d *Daemon) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Gateway.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Gateway.Listen, err)
	}
	if n := d.cfg.Gateway.MaxConnections; n > 0 {
		ln = netutil.LimitListener(ln, n)
	}
	return d.serve(ctx, ln)
}

func (d *Daemon) serve(ctx context.Context, ln net.Listener) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.done != nil {
		_ = ln.Close()
		return fmt.Errorf("daemon already started")
	}

	d.tracker = NewTracker(ctx, d.logger, d.submitter, d.cfg.Chain.ConfirmationTimeout(), trackerLimit)
	d.orch.SetConfirmer(d.tracker)
	d.done = make(chan struct{})

	srv := &http.Server{
		Handler:      d.gateway.Handler(),
		ReadTimeout:  d.cfg.Gateway.ReadTimeout(),
		WriteTimeout: d.cfg.Gateway.WriteTimeout(),
	}

	go d.health.run(ctx)
	go func() {
		defer close(d.done)
		if err := gateway.Serve(ctx, d.logger, srv, ln, shutdownTimeout); err != nil {
			d.logger.Error("http gateway stopped", "error", err)
		}
		if n := d.tracker.Pending(); n > 0 {
			d.logger.Info("waiting for tracked transactions", "pending", n)
		}
		d.tracker.Wait()
		if d.eth != nil {
			d.eth.Close()
		}
		d.logger.Info("daemon stopped")
	}()
	return nil
}

// Done is closed after Start's context is cancelled and shutdown completes.
func (d *Daemon) Done() <-chan struct{} {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return d.done
}
