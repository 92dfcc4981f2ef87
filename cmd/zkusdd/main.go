package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"zkusd/config"
	"zkusd/core/protocol"
	"zkusd/observability"
	"zkusd/observability/logging"
	"zkusd/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var rotator *lumberjack.Logger
	if cfg.LogFile != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    64, // megabytes
			MaxBackups: 4,
			MaxAge:     14, // days
		}
	}
	var logger = logging.Setup("zkusdd", cfg.Env, writerOrNil(rotator))

	params, err := cfg.Protocol.Params()
	if err != nil {
		logger.Error("invalid protocol params", "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		logger.Error("create data dir", "err", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("open state database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	snapshots := storage.NewSnapshotStore(db)

	oracle := newDevOracle(15 * time.Minute)
	machine := protocol.NewMachine(params, oracle, sysClock{})

	if blob, err := snapshots.Load(); err != nil {
		logger.Error("load snapshot", "err", err)
		os.Exit(1)
	} else if blob != nil {
		if err := machine.Restore(blob); err != nil {
			logger.Error("restore snapshot", "err", err)
			os.Exit(1)
		}
		root := machine.StateRoot()
		logger.Info("state restored",
			"height", machine.Height(),
			"root", hex.EncodeToString(root[:]))
	}

	observability.Protocol().Register(prometheus.DefaultRegisterer)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/status", statusHandler(machine))
	router.Put("/admin/price", priceHandler(oracle))

	server := &http.Server{Addr: cfg.ListenAddress, Handler: router}
	go func() {
		logger.Info("admin server listening", "addr", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	root := machine.StateRoot()
	if err := snapshots.Save(machine.Snapshot(), storage.Checkpoint{
		Height:    machine.Height(),
		StateRoot: root,
		Timestamp: uint64(time.Now().Unix()),
	}); err != nil {
		logger.Error("persist snapshot", "err", err)
		os.Exit(1)
	}
	logger.Info("snapshot persisted", "height", machine.Height(), "root", hex.EncodeToString(root[:]))
}

func writerOrNil(rotator *lumberjack.Logger) io.Writer {
	if rotator == nil {
		return nil
	}
	return rotator
}

func statusHandler(machine *protocol.Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		root := machine.StateRoot()
		status := map[string]any{
			"height":      machine.Height(),
			"stateRoot":   hex.EncodeToString(root[:]),
			"mode":        machine.GetMode().String(),
			"totalSupply": machine.GetTotalSupply().Dec(),
			"collateral":  machine.TotalCollateral().Dec(),
		}
		if tcr, finite, err := machine.GetTCR(); err == nil {
			if finite {
				status["tcr"] = tcr.Dec()
			} else {
				status["tcr"] = "inf"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	}
}
