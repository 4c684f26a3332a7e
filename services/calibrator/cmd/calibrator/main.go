// v3
// services/calibrator/cmd/calibrator/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlarge-research/opendt/internal/logging"
	"github.com/atlarge-research/opendt/services/calibrator/internal"
)

func main() {
	lg, lf := logging.InitLogger("calibrator")
	defer func(lf *os.File) {
		if err := lf.Close(); err != nil {
			lg.Error("log file close", "error", err)
		}
	}(lf)
	lg.Info("calibrator starting (grid-search over one topology parameter)")

	cfg, err := internal.LoadEnvAndFiles()
	if err != nil {
		lg.Error("config", "error", err)
		os.Exit(1)
	}
	if !cfg.CalibrationEnabled {
		lg.Info("calibration disabled, exiting")
		return
	}
	lg.Info("config loaded", "brokers", cfg.KafkaBrokers, "paramPath", cfg.ParamPath,
		"min", cfg.MinValue, "max", cfg.MaxValue, "points", cfg.LinspacePoints)

	svc, err := internal.NewService(cfg, lg)
	if err != nil {
		lg.Error("wiring", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	srv := internal.NewHTTPServer(cfg, svc, lg)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("calibration loop", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
	sh, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	_ = srv.Stop(sh)
	lg.Info("calibrator stopped")
}
