package testclient

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	x_rate "golang.org/x/time/rate"

	"github.com/code-payments/code-test-client/pkg/account"
	"github.com/code-payments/code-test-client/pkg/aggregator"
	"github.com/code-payments/code-test-client/pkg/app"
	outcome_postgres "github.com/code-payments/code-test-client/pkg/data/outcome/postgres"
	pg "github.com/code-payments/code-test-client/pkg/database/postgres"
	"github.com/code-payments/code-test-client/pkg/ledger"
	"github.com/code-payments/code-test-client/pkg/ledger/jsonrpc"
	"github.com/code-payments/code-test-client/pkg/ledger/memory"
	"github.com/code-payments/code-test-client/pkg/metrics"
	"github.com/code-payments/code-test-client/pkg/rate"
	"github.com/code-payments/code-test-client/pkg/scheduler"
	"github.com/code-payments/code-test-client/pkg/token"
	"github.com/code-payments/code-test-client/pkg/transfer"
)

// App runs the exerciser as an app.App
type App struct {
	log        *logrus.Entry
	registerer prometheus.Registerer
	env        scheduler.ConfigProvider

	conf       *Config
	client     ledger.Client
	pool       *account.Pool
	aggregator *aggregator.Aggregator
	scheduler  *scheduler.Scheduler
	archive    *aggregator.AsyncSink
	db         *sql.DB

	stopOnce sync.Once
}

// Option configures an App
type Option func(a *App)

// WithRegisterer sets the registerer for the Prometheus collectors. Defaults
// to the default Prometheus registry.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(a *App) {
		a.registerer = registerer
	}
}

// WithSchedulerConfigProvider sets where the scheduler config is pulled from.
// Defaults to environment variables.
func WithSchedulerConfigProvider(provider scheduler.ConfigProvider) Option {
	return func(a *App) {
		a.env = provider
	}
}

// New returns a new, uninitialized App
func New(opts ...Option) *App {
	a := &App{
		log:        logrus.StandardLogger().WithField("type", "testclient/app"),
		registerer: prometheus.DefaultRegisterer,
		env:        scheduler.WithEnvConfigs(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Init implements app.App.Init
func (a *App) Init(config app.Config, metricsProvider *newrelic.Application) error {
	ctx := metrics.WithNewRelic(context.Background(), metricsProvider)

	conf, err := DecodeConfig(config)
	if err != nil {
		return err
	}
	a.conf = conf

	schedulerConf, err := scheduler.LoadConfig(ctx, a.env)
	if err != nil {
		return err
	}

	fees := token.NewDefaultFeeMap()
	if len(conf.Fees) > 0 {
		fees, err = token.ParseFeeMap(conf.Fees)
		if err != nil {
			return err
		}
	}
	tokenID := token.TokenID(conf.TokenID)
	if _, ok := fees.GetFee(tokenID); !ok {
		return errors.Errorf("no fee configured for %s", tokenID)
	}

	keys, err := a.loadKeys()
	if err != nil {
		return err
	}

	var accounts []*account.Account
	switch conf.Ledger {
	case LedgerMemory:
		accounts, err = a.initMemoryLedger(fees, tokenID, keys)
	case LedgerJsonRpc:
		accounts, err = a.initJsonRpcLedger(ctx, tokenID, keys)
	}
	if err != nil {
		return err
	}

	a.pool, err = account.NewPool(accounts, account.WithAcquireTimeout(conf.AcquireTimeout))
	if err != nil {
		return err
	}

	a.aggregator = aggregator.New()

	prometheusSink := aggregator.NewPrometheusSink(a.aggregator)
	if err := prometheusSink.Register(a.registerer); err != nil {
		return errors.Wrap(err, "failed to register prometheus collectors")
	}
	a.aggregator.AddSink(prometheusSink)

	if metricsProvider != nil {
		a.aggregator.AddSink(aggregator.NewNewRelicSink())
	}

	if conf.Archive.Enabled() {
		a.db, err = pg.New(&pg.Config{
			Host:               conf.Archive.Host,
			Port:               conf.Archive.Port,
			User:               conf.Archive.User,
			Password:           conf.Archive.Password,
			DbName:             conf.Archive.DbName,
			MaxOpenConnections: conf.Archive.MaxOpenConnections,
			MaxIdleConnections: conf.Archive.MaxIdleConnections,
		})
		if err != nil {
			return errors.Wrap(err, "failed to open outcome archive")
		}

		a.archive = aggregator.NewAsyncSink(
			aggregator.NewStoreSink(outcome_postgres.New(a.db)),
			conf.Archive.Workers,
			conf.Archive.QueueSize,
		)
		a.aggregator.AddSink(a.archive)
	}

	var schedulerOpts []scheduler.Option
	if conf.Seed != 0 {
		schedulerOpts = append(schedulerOpts, scheduler.WithSeed(conf.Seed))
	}

	a.scheduler = scheduler.New(
		schedulerConf,
		a.pool,
		transfer.NewSubmitter(a.client, fees, tokenID, clockwork.NewRealClock()),
		a.client,
		a.aggregator,
		schedulerOpts...,
	)

	stats := a.pool.Stats()
	a.log.WithFields(logrus.Fields{
		"method":        "Init",
		"ledger":        conf.Ledger,
		"accounts":      stats.Total,
		"total_balance": token.StrFromPicoMob(stats.TotalBalance),
		"archive":       conf.Archive.Enabled(),
	}).Info("test client initialized")

	return nil
}

func (a *App) loadKeys() ([]*account.Key, error) {
	if len(a.conf.AccountKeysFile) == 0 {
		keys := make([]*account.Key, a.conf.AccountCount)
		for i := range keys {
			keys[i] = account.NewKeyFromSeed([]byte(fmt.Sprintf("%s-%d", a.conf.AccountSeedPrefix, i)))
		}
		return keys, nil
	}

	contents, err := app.LoadFile(a.conf.AccountKeysFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load account keys")
	}

	var keys []*account.Key
	scanner := bufio.NewScanner(bytes.NewReader(contents))
	for line := 1; scanner.Scan(); line++ {
		value := strings.TrimSpace(scanner.Text())
		if len(value) == 0 || strings.HasPrefix(value, "#") {
			continue
		}

		key, err := account.NewKeyFromPrivateKey(value)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid key on line %d", line)
		}
		keys = append(keys, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(keys) < 2 {
		return nil, errors.New("at least two account keys are required")
	}
	return keys, nil
}

func (a *App) initMemoryLedger(fees *token.FeeMap, tokenID token.TokenID, keys []*account.Key) ([]*account.Account, error) {
	opts := []memory.Option{
		memory.WithFeeMap(fees),
		memory.WithConfirmationDelay(a.conf.Memory.ConfirmationDelay),
	}

	if len(a.conf.Memory.FaultRates) > 0 {
		rates := make(map[memory.Fault]float64)
		for name, r := range a.conf.Memory.FaultRates {
			fault, err := memory.ParseFault(name)
			if err != nil {
				return nil, err
			}
			rates[fault] = r
		}
		opts = append(opts, memory.WithRandomFaults(a.conf.Memory.FaultSeed, rates))
	}

	if a.conf.Memory.SubmitRatePerAccount > 0 {
		opts = append(opts, memory.WithSubmissionRateLimit(rate.NewLocalRateLimiter(x_rate.Limit(a.conf.Memory.SubmitRatePerAccount))))
	}

	funding, err := token.StrToPicoMob(a.conf.Memory.Funding)
	if err != nil {
		return nil, err
	}

	l := memory.New(opts...)
	a.client = l

	accounts := make([]*account.Account, len(keys))
	for i, key := range keys {
		var outputs []account.Output
		if funding > 0 {
			outputs = append(outputs, l.Fund(key.Address(), tokenID, funding))
		}
		accounts[i] = account.New(key, outputs...)
	}
	return accounts, nil
}

func (a *App) initJsonRpcLedger(ctx context.Context, tokenID token.TokenID, keys []*account.Key) ([]*account.Account, error) {
	a.client = jsonrpc.New(a.conf.LedgerEndpoint, a.conf.LedgerTimeout)

	accounts := make([]*account.Account, len(keys))
	for i, key := range keys {
		outputs, err := a.client.ListUnspent(ctx, key.Address(), tokenID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list outputs for %s", key.Address())
		}
		accounts[i] = account.New(key, outputs...)
	}
	return accounts, nil
}

// Run implements app.App.Run
func (a *App) Run(ctx context.Context) error {
	if a.conf.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.conf.Duration)
		defer cancel()
	}

	return a.scheduler.Run(ctx)
}

// Report implements app.App.Report
func (a *App) Report(ctx context.Context) {
	a.aggregator.Report(ctx)

	poolStats := a.pool.Stats()
	schedulerStats := a.scheduler.Stats()

	var fatal uint64
	for _, count := range schedulerStats.FatalCounts {
		fatal += count
	}

	fields := logrus.Fields{
		"method":         "Report",
		"leased":         poolStats.Leased,
		"total_balance":  token.StrFromPicoMob(poolStats.TotalBalance),
		"in_flight":      schedulerStats.InFlight,
		"peak_in_flight": schedulerStats.PeakInFlight,
		"fatal_failures": fatal,
	}
	if a.archive != nil {
		fields["archive_dropped"] = a.archive.Dropped()
	}
	a.log.WithFields(fields).Info("run status")
}

// Snapshot returns the current outcome summary
func (a *App) Snapshot() aggregator.Snapshot {
	return a.aggregator.Snapshot()
}

// Stop implements app.App.Stop
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		if a.archive != nil {
			a.archive.Close()
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				a.log.WithError(err).Warn("failure closing outcome archive")
			}
		}
	})
}
