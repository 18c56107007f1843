// Command orchestratord runs the orchestrator node: it bridges node
// lifecycle events into the Node Registry, serves Process Card runs
// over HTTP, and dispatches capability calls to workers over the bus.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aiteam/mindbus/bus"
	"github.com/aiteam/mindbus/core"
	"github.com/aiteam/mindbus/orchestrator"
	"github.com/aiteam/mindbus/registry"
)

func main() {
	cardPath := flag.String("card-dir", "./cards", "directory of Process Card YAML files")
	addr := flag.String("addr", ":8080", "HTTP listen address for run requests")
	mockBus := flag.Bool("mock-bus", false, "use an in-process bus instead of connecting to a broker")
	flag.Parse()

	cfg, err := core.NewConfig(core.WithName("orchestrator"))
	if err != nil {
		fatal("loading configuration", err)
	}

	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, "orchestratord")

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

	reg := registry.New(registry.Config{
		HeartbeatIntervalSeconds: cfg.Registry.HeartbeatIntervalSeconds,
		TTLSeconds:               cfg.Registry.TTLSeconds,
		CleanupIntervalSeconds:   cfg.Registry.CleanupIntervalSeconds,
	}, logger)

	svc := registry.NewService(reg, b, logger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		fatal("starting registry bridge", err)
	}
	defer svc.Stop()

	dispatcher := orchestrator.NewBusDispatcher(b, reg, cfg.Name, cfg.Orchestrator.ReplyQueueName, cfg.Resilience.CircuitBreaker)
	if err := dispatcher.Start(ctx); err != nil {
		fatal("starting dispatcher", err)
	}

	executor := orchestrator.NewExecutor(dispatcher, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/runs", runHandler(executor, *cardPath))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Info("orchestratord listening", map[string]interface{}{"addr": *addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

type runRequest struct {
	CardID string                 `json:"card_id"`
	Input  map[string]interface{} `json:"input"`
	Trace  string                 `json:"trace_id"`
}

func runHandler(executor *orchestrator.Executor, cardDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %s", err), http.StatusBadRequest)
			return
		}

		card, err := orchestrator.LoadProcessCard(fmt.Sprintf("%s/%s.yaml", cardDir, req.CardID))
		if err != nil {
			http.Error(w, fmt.Sprintf("loading process card %q: %s", req.CardID, err), http.StatusNotFound)
			return
		}

		instance, err := executor.ExecuteProcess(r.Context(), card, req.Input, req.Trace)
		if err != nil {
			http.Error(w, fmt.Sprintf("executing process: %s", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(instance)
	}
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "orchestratord: %s: %s\n", action, err)
	os.Exit(1)
}
