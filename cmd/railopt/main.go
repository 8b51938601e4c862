package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/AntoniyaJency/railopt/internal/audit"
	"github.com/AntoniyaJency/railopt/internal/common/config"
	"github.com/AntoniyaJency/railopt/internal/common/logger"
	"github.com/AntoniyaJency/railopt/internal/engine"
	"github.com/AntoniyaJency/railopt/internal/network"
	"github.com/AntoniyaJency/railopt/internal/optimizer"
	"github.com/AntoniyaJency/railopt/internal/state"
	"github.com/AntoniyaJency/railopt/pkg/railway"
)

func main() {
	// .env is optional; variables already in the environment win either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log := logger.NewWithLevel(
		logger.ParseLevel(cfg.Logging.Level),
		logger.ConsoleWriter(),
		logger.FileWriter(cfg.Logging.FilePath),
	)

	log.Info("Railway optimization service starting",
		"log_level", cfg.Logging.Level,
		"audit_driver", cfg.Audit.Driver,
		"dispatch_interval", cfg.Dispatch.CycleInterval,
	)

	// Open the durable audit store. The memory driver returns nil and the
	// recorder keeps its ring only.
	store, err := audit.Open(cfg.Audit, log)
	if err != nil {
		log.Fatal("Failed to open audit store", "error", err)
	}
	rec := audit.NewRecorder(store, log)

	optCfg := optimizer.Config{
		HorizonMin:    cfg.Optimizer.HorizonMinutes,
		DelayStepMin:  cfg.Optimizer.DelayStepMin,
		MaxDelayMin:   cfg.Optimizer.MaxDelayMin,
		MaxIterations: cfg.Optimizer.MaxIterations,
		TimeBudget:    cfg.Optimizer.TimeBudget,
		EnableReroute: cfg.Optimizer.EnableReroute,
		Seed:          cfg.Optimizer.Seed,
	}
	eng := engine.New(optCfg, log, rec)

	net, err := network.LoadFile(cfg.Fixtures.NetworkPath)
	if err != nil {
		log.Fatal("Failed to load network", "error", err, "path", cfg.Fixtures.NetworkPath)
	}
	if err := eng.LoadNetwork(net.Stations(), net.Sections()); err != nil {
		log.Fatal("Failed to install network", "error", err)
	}

	trains, err := state.LoadTrainsFile(cfg.Fixtures.TrainsPath)
	if err != nil {
		log.Fatal("Failed to load trains", "error", err, "path", cfg.Fixtures.TrainsPath)
	}
	if cfg.Fixtures.Rebase && len(trains) > 0 {
		trains = rebaseSchedules(trains, time.Now())
		log.Info("Fixture schedules rebased to startup")
	}
	for _, t := range trains {
		if err := eng.UpsertTrain(t); err != nil {
			log.Fatal("Failed to register train", "error", err, "train", t.ID)
		}
	}
	log.Info("Fleet registered", "trains", len(trains))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	if cfg.Dispatch.Enabled {
		log.Info("Starting optimization dispatcher", "interval", cfg.Dispatch.CycleInterval)
		dispatcher := engine.NewDispatcher(eng, cfg.Dispatch.CycleInterval, log)
		wg.Add(1)
		go func(d *engine.Dispatcher) {
			defer wg.Done()
			if err := d.Start(ctx); err != nil {
				log.Error("Dispatcher error", "error", err)
			}
		}(dispatcher)
	} else {
		log.Info("Periodic optimization disabled")
	}

	if store != nil {
		janitor := audit.NewJanitor(store, cfg.Audit.Retention, 6*time.Hour, log)
		wg.Add(1)
		go func(j *audit.Janitor) {
			defer wg.Done()
			if err := j.Start(ctx); err != nil {
				log.Error("Audit janitor error", "error", err)
			}
		}(janitor)
	}

	// Wait for shutdown signal
	<-sigChan
	log.Info("Shutdown signal received")

	cancel()
	wg.Wait()

	// Flushes queued audit writes and closes the store behind it.
	if err := rec.Close(); err != nil {
		log.Error("Failed to close audit recorder", "error", err)
	}

	log.Info("Railway optimization service stopped")
}

// rebaseSchedules shifts every schedule by the same offset so the earliest
// departure lands at base, preserving the gaps between trains.
func rebaseSchedules(trains []railway.Train, base time.Time) []railway.Train {
	earliest := trains[0].ScheduledDeparture
	for _, t := range trains[1:] {
		if t.ScheduledDeparture.Before(earliest) {
			earliest = t.ScheduledDeparture
		}
	}
	delta := base.Sub(earliest)
	for i := range trains {
		trains[i].ScheduledDeparture = trains[i].ScheduledDeparture.Add(delta)
		trains[i].ScheduledArrival = trains[i].ScheduledArrival.Add(delta)
	}
	return trains
}
