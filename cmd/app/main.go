package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/osifo/clipgate/internal/abtest"
	"github.com/osifo/clipgate/internal/admission"
	"github.com/osifo/clipgate/internal/caption"
	"github.com/osifo/clipgate/internal/classify"
	"github.com/osifo/clipgate/internal/config"
	"github.com/osifo/clipgate/internal/media"
	"github.com/osifo/clipgate/internal/orchestrator"
	"github.com/osifo/clipgate/internal/queue"
	"github.com/osifo/clipgate/internal/safety"
	"github.com/osifo/clipgate/internal/trend"
	"github.com/osifo/clipgate/pkg/kv"
	"github.com/osifo/clipgate/pkg/logger"
	"github.com/osifo/clipgate/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	defer func() { _ = log.Sync() }()

	store, err := kv.NewRedisStore(kv.RedisConfig{
		Host:         cfg.RedisHost,
		Port:         cfg.RedisPort,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
		MaxRetries:   cfg.RedisMaxRetries,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer store.Close()

	policy := safety.Policy{
		Porn:             cfg.PolicyPorn,
		Hentai:           cfg.PolicyHentai,
		Sexy:             cfg.PolicySexy,
		NeutralFloor:     cfg.PolicyNeutralFloor,
		SkinRatioAutoFix: cfg.PolicySkinRatioAutoFix,
		MaxSeconds:       cfg.PolicyMaxSeconds,
		TargetFPS:        cfg.PolicyTargetFPS,
		NormalizeLUFS:    cfg.PolicyNormalizeLUFS,
		ProfanityBlock:   cfg.PolicyProfanityBlock,
		RejectIncomplete: cfg.PolicyRejectIncomplete,
	}

	ffmpeg := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, cfg.WorkDir, log)
	classifier := classify.NewHTTPClassifier(cfg.ClassifierEndpoint, log)
	captions := caption.NewScanner(nil)

	var malware classify.MalwareScanner
	if cfg.ClamdAddress != "" {
		malware = classify.NewClamScanner(cfg.ClamdAddress, log)
	}

	agg := safety.NewAggregator(ffmpeg, ffmpeg, classifier, captions, malware, log)
	fixer := safety.NewFixer(ffmpeg, captions, policy, log)
	reports := safety.NewReportStore(store, log)
	engine := safety.NewEngine(agg, fixer, reports, policy, log)

	ledger := admission.NewLedger(store, log)
	controller := admission.NewController(ledger, log)

	trends, err := trend.NewScorer(store, cfg.TrendNicheExpr, log)
	if err != nil {
		log.Fatal("invalid trend niche-fit expression", zap.Error(err))
	}

	picker := abtest.NewPicker(store, log)

	source, err := queue.NewDirSource(cfg.DraftsDir, "default", log)
	if err != nil {
		log.Fatal("failed to open drafts directory", zap.Error(err))
	}
	defer source.Close()

	publisher := orchestrator.NewHTTPPublisher(cfg.PublisherEndpoint, log)

	profiles := map[string]admission.Profile{
		"default": {
			ID: "default",
			Quota: admission.Quota{
				DayCap:  cfg.QuotaDayCap,
				HourCap: cfg.QuotaHourCap,
				GapMin:  cfg.QuotaGapMin,
			},
		},
	}

	orch := orchestrator.New(source, engine, controller, trends, picker, publisher, store, profiles, cfg.MaxPerTick, log)

	metricsSrv := metrics.NewServer(cfg.MetricsPort, log)
	metricsSrv.Start()

	c := cron.New()
	if _, err := c.AddFunc(cfg.TickCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := orch.Tick(ctx); err != nil {
			log.Error("tick failed", zap.Error(err))
		}
	}); err != nil {
		log.Fatal("failed to schedule tick", zap.Error(err), zap.String("cron_expr", cfg.TickCron))
	}
	c.Start()

	log.Info("clipgate started",
		zap.String("tick", cfg.TickCron),
		zap.String("drafts", cfg.DraftsDir))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cronCtx := c.Stop()
	<-cronCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown failed", zap.Error(err))
	}
}
