package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gridlock-ai/sentinel/internal/config"
	"github.com/gridlock-ai/sentinel/internal/feedback"
	"github.com/gridlock-ai/sentinel/internal/handler"
	"github.com/gridlock-ai/sentinel/internal/ledger"
	"github.com/gridlock-ai/sentinel/internal/lifecycle"
	"github.com/gridlock-ai/sentinel/internal/logging"
	"github.com/gridlock-ai/sentinel/internal/monitor"
	"github.com/gridlock-ai/sentinel/internal/notify"
	"github.com/gridlock-ai/sentinel/internal/scorer"
	"github.com/gridlock-ai/sentinel/internal/service"
	"github.com/gridlock-ai/sentinel/internal/simulate"
	"github.com/gridlock-ai/sentinel/internal/storage"
	"github.com/gridlock-ai/sentinel/internal/telemetry"
	"github.com/gridlock-ai/sentinel/internal/threshold"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "sentinel",
		Short:         "Electricity theft detection daemon for one monitored circuit",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = os.Getenv("GRIDLOCK_CONFIG")
			}
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sentinel:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	log = log.With(zap.String("circuit_id", cfg.Circuit.ID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ledger
	store, err := openLedgerStore(cfg.Ledger)
	if err != nil {
		return err
	}
	chain, err := ledger.Open(store, log.Named("ledger"))
	if err != nil {
		return err
	}
	defer chain.Close()
	if report := chain.Verify(); !report.OK {
		log.Error("ledger failed verification at startup",
			zap.Int64("failed_index", report.FailedIndex),
			zap.String("reason", report.Reason),
		)
	} else {
		log.Info("ledger verified", zap.Int("entries", report.Entries))
	}

	recorder, err := feedback.NewRecorder(cfg.Feedback.Path, chain, log.Named("feedback"))
	if err != nil {
		return err
	}

	// Journal
	var db *sqlx.DB
	var repo storage.Repository
	if cfg.Database.DSN != "" {
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		db, err = storage.NewPostgresDB(dbCtx, cfg.Database.DSN)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		repo = storage.NewPostgresRepository(db)
		log.Info("connected to PostgreSQL")
	}

	// Metrics
	metrics := monitor.NewMetrics()
	drift := monitor.NewDriftDetector(metrics, cfg.Drift.Threshold)

	// Notifications
	dispatcher, closers, err := buildDispatcher(cfg, repo, metrics, log.Named("notify"))
	if err != nil {
		return err
	}

	policy := threshold.New(cfg.Threshold.Baseline)
	ctrl := lifecycle.New(lifecycle.Config{
		CircuitID:   cfg.Circuit.ID,
		AdaptValue:  cfg.Threshold.AdaptValue,
		AdaptWindow: cfg.Threshold.AdaptWindow,
	}, policy, recorder,
		lifecycle.WithSink(dispatcher),
		lifecycle.WithObserver(metrics),
		lifecycle.WithLogger(log.Named("lifecycle")),
	)

	// Telemetry
	buf := telemetry.NewBuffer(cfg.Telemetry.MaxAge)
	var source telemetry.Source = buf
	var sim *simulate.Simulator
	switch cfg.Telemetry.Source {
	case "simulator":
		sim, err = newSimulator(cfg.Simulator)
		if err != nil {
			return err
		}
		source = sim
	case "mqtt":
		sub := telemetry.NewMQTTSubscriber(telemetry.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
		}, buf, log.Named("mqtt"))
		if err := sub.Start(10 * time.Second); err != nil {
			return err
		}
		defer sub.Stop()
	}
	source = telemetry.NewCachedSource(source, cfg.Telemetry.CacheTTL)

	sc, err := newScorer(cfg)
	if err != nil {
		return err
	}

	hub := handler.NewHub(log.Named("stream"), nil)
	defer hub.Close()

	poller := service.NewPoller(service.PollerConfig{
		Interval:      cfg.Poll.Interval,
		ScorerTimeout: cfg.Scorer.Timeout,
	}, source, sc, ctrl, drift, log.Named("poller"))
	poller.OnSnapshot(hub.Publish)

	if configPath != "" {
		err := config.Watch(configPath, func(next config.Config) {
			if next.Threshold.Baseline != policy.Baseline() {
				policy.SetBaseline(next.Threshold.Baseline)
				log.Info("threshold baseline reloaded", zap.Float64("baseline", next.Threshold.Baseline))
			}
		}, func(err error) {
			log.Warn("config reload rejected", zap.Error(err))
		})
		if err != nil {
			log.Warn("config watch disabled", zap.Error(err))
		}
	}

	// Handlers
	var pinger handler.Pinger
	if repo != nil {
		pinger = repo
	}
	routes := handler.Routes{
		Circuit:     handler.NewCircuitHandler(ctrl, hub),
		Ledger:      handler.NewLedgerHandler(chain),
		Reporting:   handler.NewReportingHandler(service.NewReportingService(repo), cfg.Circuit.ID),
		Health:      handler.NewHealthHandler(pinger, chain, metrics, drift),
		Hub:         hub,
		Metrics:     metrics.Handler(),
		CORSOrigins: cfg.Server.CORSOrigins,
		Recorder:    metrics,
		Log:         log.Named("http"),
	}
	if cfg.Telemetry.Source == "http" {
		routes.Ingest = handler.NewIngestHandler(buf)
	}
	if sim != nil {
		routes.Simulator = handler.NewSimulatorHandler(sim)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.NewRouter(routes),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		poller.Run(ctx)
	}()
	if repo != nil {
		go service.RunRetention(ctx, repo, cfg.Journal.Retention, log.Named("retention"))
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("gridlock sentinel running", zap.String("addr", srv.Addr), zap.String("source", cfg.Telemetry.Source))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	stop()
	<-shutdownDone
	<-pollerDone

	waitCtx, cancel := context.WithTimeout(context.Background(), cfg.Notify.Timeout+time.Second)
	defer cancel()
	if err := dispatcher.Wait(waitCtx); err != nil {
		log.Warn("notifications still in flight at exit", zap.Error(err))
	}
	for _, c := range closers {
		c()
	}
	log.Info("server stopped")
	return nil
}

func openLedgerStore(cfg config.LedgerConfig) (ledger.Store, error) {
	if cfg.Backend == "sqlite" {
		s, err := ledger.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := ledger.NewFileStore(cfg.Path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newSimulator(cfg config.SimulatorConfig) (*simulate.Simulator, error) {
	ds := simulate.Split(simulate.GenerateDataset())
	if cfg.Dataset != "" {
		loaded, err := simulate.LoadDataset(cfg.Dataset)
		if err != nil {
			return nil, err
		}
		ds = loaded
	}
	sim, err := simulate.New(ds, cfg.Seed)
	if err != nil {
		return nil, err
	}
	mode, err := simulate.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	sim.SetMode(mode)
	return sim, nil
}

func newScorer(cfg config.Config) (scorer.Scorer, error) {
	if cfg.Scorer.Kind == "sagemaker" {
		sm, err := scorer.NewSageMaker(cfg.AWS.Region, cfg.Scorer.Endpoint)
		if err != nil {
			return nil, err
		}
		return sm, nil
	}
	return scorer.NewHTTP(cfg.Scorer.URL, cfg.Scorer.Timeout), nil
}

func buildDispatcher(cfg config.Config, repo storage.Repository, metrics *monitor.Metrics, log *zap.Logger) (*notify.Dispatcher, []func(), error) {
	d := notify.NewDispatcher(cfg.Notify.Timeout, metrics, log)
	var closers []func()

	if cfg.Notify.WebhookURL != "" {
		d.Add(notify.Only(notify.NewWebhook("alerts", cfg.Notify.WebhookURL),
			lifecycle.EventAnomalyOpened, lifecycle.EventAnomalyAdapted, lifecycle.EventTheftConfirmed, lifecycle.EventCircuitReset))
	}
	if cfg.Notify.RetrainURL != "" {
		d.Add(notify.Only(notify.NewWebhook("retrain", cfg.Notify.RetrainURL), lifecycle.EventRetrainRequested))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		k := notify.NewKafka(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		d.Add(k)
		closers = append(closers, func() { k.Close() })
	}
	if cfg.Proof.Bucket != "" {
		p, err := notify.NewS3Proof(cfg.AWS.Region, cfg.Proof.Bucket, cfg.Proof.Prefix)
		if err != nil {
			return nil, nil, err
		}
		d.Add(p)
	}
	if repo != nil {
		d.Add(notify.NewJournal(repo))
	}
	return d, closers, nil
}
