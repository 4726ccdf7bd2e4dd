// Command engine is the trading engine's process entry point: it loads
// configuration, wires every collaborator together, and runs the
// orchestrator until an interrupt or terminate signal requests shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perpengine/command"
	"perpengine/config"
	"perpengine/exchange"
	"perpengine/logx"
	"perpengine/marketstream"
	"perpengine/metrics"
	"perpengine/orchestrator"
	"perpengine/statestore"
	"perpengine/userstream"
)

func main() {
	log := logx.New("main")
	if os.Getenv("LOG_JSON") == "true" {
		logx.SetJSON()
	}

	cfg := config.Load()
	metrics.Init()

	ex := exchange.New(cfg.BinanceAPIKey, cfg.BinanceAPISecret)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := checkClockDrift(ctx, ex, cfg.TimeDriftMaxMs, log); err != nil {
		log.Warnf("clock drift check failed: %v", err)
	}

	ms := marketstream.New()

	us := userstream.New(ex.RawClient())

	cmds := command.NewHTTPSource(cfg.AdminUserID)
	go func() {
		if err := cmds.Run(cfg.CommandListenAddr); err != nil {
			log.Errorf("command surface stopped: %v", err)
		}
	}()

	store := statestore.NewJSONStore(cfg.StatePath)
	ledger, err := statestore.OpenLedger(cfg.StatePath + ".ledger.db")
	if err != nil {
		log.Errorf("open ledger failed: %v", err)
		os.Exit(1)
	}
	defer ledger.Close()

	go serveMetrics(log)

	eng := orchestrator.New(cfg, ex, ms, us, cmds, store, ledger)
	metrics.SetEngineRunning(!cfg.Paused)

	log.Infof("engine starting: run_mode=%s mode=%s leverage=%dx", cfg.RunMode, modeLabel(cfg.SimpleMode), cfg.Leverage)
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		log.Errorf("engine exited with error: %v", err)
		os.Exit(1)
	}
	log.Infof("engine shut down cleanly")
}

func modeLabel(simple bool) string {
	if simple {
		return "simple"
	}
	return "advanced"
}

func checkClockDrift(ctx context.Context, ex *exchange.Adapter, maxDriftMs int, log *logx.Logger) error {
	drift, err := ex.ClockDriftMs(ctx)
	if err != nil {
		return err
	}
	if drift > int64(maxDriftMs) {
		log.Warnf("clock drift %dms exceeds threshold %dms; proceeding (warn-only)", drift, maxDriftMs)
	}
	return nil
}

func serveMetrics(log *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	addr := os.Getenv("METRICS_LISTEN_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	log.Infof("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics server stopped: %v", err)
	}
}
