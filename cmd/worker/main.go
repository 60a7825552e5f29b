package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/censer/internal/worker"
)

func main() {
	log := logrus.New()

	target := os.Getenv("COORDINATOR_TARGET")
	if len(os.Args) > 1 {
		target = os.Args[1]
	}
	if target == "" {
		fmt.Fprintln(os.Stderr, "usage: worker <host:port>")
		fmt.Fprintln(os.Stderr, "  (or set COORDINATOR_TARGET)")
		os.Exit(1)
	}

	ctx := context.Background()
	exec, err := worker.NewWasmExecutor(ctx, log)
	if err != nil {
		log.WithError(err).Fatal("cannot start wasm runtime")
	}
	defer exec.Close(ctx)

	conn, err := net.Dial("tcp", target)
	if err != nil {
		log.WithError(err).Fatalf("cannot reach coordinator at %s", target)
	}

	if err := worker.Serve(ctx, conn, exec, log); err != nil {
		log.WithError(err).Error("connection to coordinator lost")
		os.Exit(1)
	}
	log.Info("quitting")
}
