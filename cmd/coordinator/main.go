package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/censer/internal/catalog"
	"github.com/dreamware/censer/internal/coordinator"
)

func main() {
	log := logrus.New()

	addr := getenv("COORDINATOR_ADDR", ":7420")
	interval := getenvDuration(log, "COORDINATOR_HEARTBEAT", coordinator.DefaultHeartbeatInterval)
	readTimeout := getenvDuration(log, "COORDINATOR_READ_TIMEOUT", 0)

	units := catalog.NewMemoryCatalog()
	if dir := os.Getenv("COORDINATOR_UNITS"); dir != "" {
		loaded, err := catalog.LoadDir(units, dir)
		if err != nil {
			log.WithError(err).Fatalf("cannot load units from %s", dir)
		}
		log.WithField("units", loaded).Infof("unit catalog loaded from %s", dir)
	}

	srv, err := coordinator.NewServer(coordinator.Config{
		Addr:              addr,
		HeartbeatInterval: interval,
		ReadTimeout:       readTimeout,
		Logger:            log,
	})
	if err != nil {
		log.WithError(err).Fatalf("cannot listen on %s", addr)
	}

	srv.OnConnect().Register(func(h *coordinator.Handle) {
		log.WithFields(logrus.Fields{
			"worker_id":  h.ID(),
			"cpus":       h.CPUs(),
			"memory_kib": h.MemoryKiB(),
			"storage_kb": h.StorageKB(),
		}).Info("worker joined the fleet")

		// Preload the catalog onto every worker that joins.
		for _, name := range units.List() {
			unit, err := units.Get(name)
			if err != nil {
				continue
			}
			h.Upload("bootstrap", unit).OnFailure(func(err error) {
				log.WithError(err).WithFields(logrus.Fields{
					"worker_id": h.ID(),
					"unit":      name,
				}).Warn("bootstrap upload failed")
			})
		}
	})
	srv.OnDisconnect().Register(func(h *coordinator.Handle) {
		log.WithField("worker_id", h.ID()).Info("worker left the fleet")
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	_ = srv.Close()
	srv.Dispose()
	log.Info("coordinator stopped")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvDuration(log *logrus.Logger, k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.WithError(err).Warnf("ignoring bad %s value %q", k, v)
		return def
	}
	return d
}
