package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"BetSentinel/internal/config"
	"BetSentinel/internal/engine"
	"BetSentinel/internal/logging"
	"BetSentinel/internal/model"
	"BetSentinel/internal/notifier"
	"BetSentinel/internal/recorder"
	"BetSentinel/internal/scheduler"
	"BetSentinel/internal/sink"
)

func main() {
	log := logging.For("main")
	log.Info("BetSentinel starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	logging.Init(cfg.LogLevel)

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Warnf("init sqlite recorder failed, keeping state in memory: %v", err)
			rec = recorder.NewMemoryRecorder()
		} else {
			rec = sr
		}
	} else {
		rec = recorder.NewMemoryRecorder()
	}
	defer rec.Close()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, cfg, rec, nil)
	if err != nil {
		log.Fatalf("init engine: %v", err)
	}

	// Optional sinks
	var sinks []sink.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, sink.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		log.Infof("publishing ledger events to kafka topic %s", cfg.Kafka.Topic)
	}
	if cfg.Redis.Addr != "" {
		rs, err := sink.NewRedisSink(ctx, sink.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		}, eng)
		if err != nil {
			log.Warnf("redis cache disabled: %v", err)
		} else {
			sinks = append(sinks, rs)
		}
	}
	eng.StartSinks(ctx, 256, sinks...)
	defer eng.Close()

	// Init Telegram notifier
	tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
	if !tn.Enabled() {
		log.Warn("telegram not configured, notifications disabled")
	}

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, eng, tn, model.Severity(cfg.Telegram.MinSeverity))
	eng.OnAlert(sched.NotifyAlert)
	s := cfg.Schedule
	if err := sched.RegisterAll(s.VerifyCron, s.EvaluateCron, s.CloseCron, s.SummaryCron); err != nil {
		log.Fatalf("register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// Start Telegram polling
	go tn.StartPolling(ctx, sched.HandleCommand)

	if os.Getenv("RUN_ON_START") == "true" {
		log.Info("RUN_ON_START enabled, running verify/close/evaluate now")
		go sched.RunNow()
	}

	log.Info("BetSentinel is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping...")
	cancel()
}
