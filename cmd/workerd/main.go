// Command workerd runs an example worker node advertising two trivial
// capabilities, "echo" and "sleep", to demonstrate the Worker Runtime
// skeleton end to end against a live or mock bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aiteam/mindbus/bus"
	"github.com/aiteam/mindbus/core"
	"github.com/aiteam/mindbus/worker"
)

func main() {
	name := flag.String("name", "worker-echo", "node name this worker registers under")
	mockBus := flag.Bool("mock-bus", false, "use an in-process bus instead of connecting to a broker")
	flag.Parse()

	cfg, err := core.NewConfig(core.WithName(*name))
	if err != nil {
		fatal("loading configuration", err)
	}

	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, "workerd")

	var b bus.Bus
	if *mockBus || cfg.Development.MockBus {
		b = bus.NewMock(cfg.Bus, cfg.Name)
	} else {
		amqp := bus.New(cfg.Bus, cfg.Name, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := amqp.Connect(ctx); err != nil {
			fatal("connecting to bus", err)
		}
		b = amqp
	}

	rt := worker.New(worker.Config{
		Name:                     cfg.Name,
		NodeType:                 core.NodeTypeAgent,
		Labels:                   map[string]string{"example": "true"},
		HeartbeatIntervalSeconds: cfg.Registry.HeartbeatIntervalSeconds,
	}, b, logger)

	rt.RegisterCapability("echo", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"echoed": params["message"]}, nil
	})
	rt.RegisterCapability("sleep", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		seconds, _ := params["seconds"].(float64)
		if seconds <= 0 {
			seconds = 1
		}
		select {
		case <-time.After(time.Duration(seconds * float64(time.Second))):
			return map[string]interface{}{"slept_seconds": seconds}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		fatal("starting worker runtime", err)
	}
	logger.Info("workerd running", map[string]interface{}{"name": cfg.Name})

	<-ctx.Done()
	rt.Stop(context.Background())
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "workerd: %s: %s\n", action, err)
	os.Exit(1)
}
