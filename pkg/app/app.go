package app

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-test-client/pkg/metrics"
	"github.com/code-payments/code-test-client/pkg/osutil"
)

// App is a long lived application that runs until it's done, or until the
// process is asked to stop.
//
// The lifecycle of the App is tied to the process. The app gets initialized
// before it runs, and gets stopped after Run has returned.
type App interface {
	// Init initializes the application in a blocking fashion. When Init
	// returns, the application is ready to Run.
	Init(config Config, metricsProvider *newrelic.Application) error

	// Run runs the application until ctx is done, or until the application is
	// done. It's expected to return shortly after ctx is done.
	Run(ctx context.Context) error

	// Report reports on the application's progress. It's called on the
	// configured cron schedule, and once after Run returns.
	Report(ctx context.Context)

	// Stop stops the application, allowing for it to clean up any resources.
	// When Stop() returns, the process exits.
	//
	// Stop should be idempotent.
	Stop()
}

var (
	configPath = flag.String("config", "config.yaml", "configuration file path")

	osSigCh = make(chan os.Signal, 1)
)

func init() {
	signal.Notify(osSigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
}

func Run(app App, options ...Option) error {
	flag.Parse()

	logger := logrus.StandardLogger().WithField("type", "app")

	config, err := LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Error("failed to load config")
		os.Exit(1)
	}

	// todo: Better abstraction so we're not directly tied to NR
	var metricsProvider *newrelic.Application
	if len(config.NewRelicLicenseKey) > 0 {
		nr, err := newrelic.NewApplication(
			newrelic.ConfigFromEnvironment(),
			newrelic.ConfigAppName(config.AppName),
			newrelic.ConfigLicense(config.NewRelicLicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logrus.WithError(err).Error("error connecting to new relic")
			os.Exit(1)
		}

		metricsProvider = nr
	}

	configureLogger(config, metricsProvider)

	opts := opts{
		gatherer:      prometheus.DefaultGatherer,
		debugHandlers: make(map[string]http.Handler),
	}
	for _, o := range options {
		o(&opts)
	}

	// We don't want to expose pprof/expvar publically, so we reset the default
	// http ServeMux, which will have those installed due to the init() function
	// in those packages.
	http.DefaultServeMux = http.NewServeMux()

	debugCtx, stopDebugServer := context.WithCancel(context.Background())
	defer stopDebugServer()
	if config.EnableExpvar || config.EnablePprof || config.EnableMetrics || len(opts.debugHandlers) > 0 {
		startDebugServer(debugCtx, logger, config.DebugListenAddress, newDebugMux(config, opts))
	}

	var ballast []byte
	if config.EnableBallast {
		totalMemory := osutil.GetTotalMemory()
		ballastCapacity := config.BallastCapacity
		if ballastCapacity > 0.5 {
			ballastCapacity = 0.5
		}
		ballastSize := uint64(ballastCapacity * float32(totalMemory))
		ballast = make([]byte, ballastSize)
	}

	if err := app.Init(config.AppConfig, metricsProvider); err != nil {
		logger.WithError(err).Error("failed to initialize application")
		os.Exit(1)
	}

	ctx := metrics.WithNewRelic(context.Background(), metricsProvider)
	runCtx, stopApp := context.WithCancel(ctx)
	defer stopApp()

	if len(config.ReportCronSchedule) > 0 {
		cronJob := cron.New(cron.WithLocation(time.Local))
		_, err = cronJob.AddFunc(config.ReportCronSchedule, func() {
			app.Report(ctx)
		})
		if err != nil {
			logger.WithError(err).Error("failed to initialize report cron")
			os.Exit(1)
		}
		cronJob.Start()
		defer cronJob.Stop()
	}

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- app.Run(runCtx)
	}()

	// Wait for the following shutdown conditions:
	//    1. OS Signal telling us to shutdown
	//    2. The application is done (for whatever reason)
	var runErr error
	select {
	case <-osSigCh:
		logger.Info("interrupt received, shutting down")

		stopApp()

		select {
		case runErr = <-runErrCh:
		case <-time.After(config.ShutdownGracePeriod):
			app.Stop()
			return errors.Errorf("failed to stop the application within %v", config.ShutdownGracePeriod)
		}
	case runErr = <-runErrCh:
		logger.Info("app done")
	}

	app.Report(ctx)
	app.Stop()

	// Ensure the ballast is used to avoid any possible compiler optimizations
	// around unused variable.
	if len(ballast) > 0 {
		ballast[0] = 1
	}

	return runErr
}

func newDebugMux(config BaseConfig, opts opts) *http.ServeMux {
	debugHTTPMux := http.NewServeMux()
	if config.EnableExpvar {
		debugHTTPMux.Handle("/debug/vars", expvar.Handler())
	}
	if config.EnablePprof {
		debugHTTPMux.HandleFunc("/debug/pprof/", pprof.Index)
		debugHTTPMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		debugHTTPMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		debugHTTPMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		debugHTTPMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	if config.EnableMetrics {
		debugHTTPMux.Handle("/metrics", promhttp.HandlerFor(opts.gatherer, promhttp.HandlerOpts{}))
	}
	for pattern, handler := range opts.debugHandlers {
		debugHTTPMux.Handle(pattern, handler)
	}
	return debugHTTPMux
}

func startDebugServer(ctx context.Context, logger *logrus.Entry, address string, handler http.Handler) {
	server := &http.Server{
		Addr:    address,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	go func() {
		for {
			err := server.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return
			}
			logger.WithError(err).Warn("Debug HTTP server failed. Retrying in 5s...")

			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
}

func configureLogger(config BaseConfig, metricsProvider *newrelic.Application) {
	if metricsProvider != nil {
		logrus.SetFormatter(metrics.NewLogFormatter(metricsProvider, &logrus.JSONFormatter{}))
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		logrus.StandardLogger().WithField("log_level", config.LogLevel).Warn("unknown log level, ignoring")
	} else {
		logrus.SetLevel(level)
	}

	logrus.SetOutput(os.Stdout)
}
