package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rollcall/internal/app"
	"rollcall/internal/config"
	"rollcall/internal/faceclient"
	"rollcall/internal/logging"
	"rollcall/internal/syncqueue"
	"rollcall/internal/worker"
)

// Worker verifies queued face scans, runs the scheduled seeding pass and, on edge
// nodes, pushes unsynced records upstream.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.Logger("worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("build app")
	}
	defer a.Close()

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip, cfg.FaceThreshold)
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Warn().Err(err).Msg("face service not available; scans will fail until it is")
		} else {
			log.Info().Str("url", cfg.FaceServiceURL).Msg("face service connected")
		}
	}

	jobs := []worker.Job{{
		Name: "seed",
		Spec: cfg.SeedSchedule,
		Run:  a.SeedToday,
	}}
	if a.Reconciler != nil {
		jobs = append(jobs, worker.Job{
			Name:    "reconcile",
			Spec:    cfg.ReconcileSchedule,
			Timeout: 2 * cfg.SyncTimeout,
			Run: func(ctx context.Context) error {
				_, err := a.Reconciler.Run(ctx)
				return err
			},
			Quiet: func(err error) bool { return errors.Is(err, syncqueue.ErrNothingToSync) },
		})
	}
	sched, err := worker.NewScheduler(cfg.Location(), jobs...)
	if err != nil {
		log.Fatal().Err(err).Msg("schedule jobs")
	}
	sched.Start()

	messages, err := a.Work.Consume(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("queue consume init failed")
	}

	log.Info().Int("jobs", len(jobs)).Msg("worker started, waiting for messages")
	worker.NewFaceScans(face, a.Service).Run(ctx, messages)

	log.Info().Msg("shutdown signal received")
	stopCtx := sched.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		log.Warn().Msg("scheduled jobs still running at exit")
	}
	log.Info().Msg("worker stopped")
}
