// Command coredemo wires the scheduler, event dispatcher, and dashboard
// into a single process, in the style of control_plane/main.go's env-var
// config loading and startup banner, narrowed to this core's own scope (no
// persistence, coordination, or multi-tenant routing).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"net/http"
	"strconv"

	"github.com/pluginforge/core/apprun"
	"github.com/pluginforge/core/auth"
	"github.com/pluginforge/core/dashboard"
	"github.com/pluginforge/core/eventlog"
	"github.com/pluginforge/core/events"
	"github.com/pluginforge/core/middleware"
	"github.com/pluginforge/core/pluginapi"
	"github.com/pluginforge/core/scheduler"
	"github.com/pluginforge/core/task"
)

func envUint64(name string, def uint64) uint64 {
	if raw := os.Getenv(name); raw != "" {
		var v uint64
		if _, err := fmt.Sscanf(raw, "%d", &v); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func envInt(name string, def int) int {
	if raw := os.Getenv(name); raw != "" {
		var v int
		if _, err := fmt.Sscanf(raw, "%d", &v); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// demoLifecycle implements pluginapi.Lifecycle, demonstrating the
// scheduler.cancel / events.remove_plugin ordering contract spec.md §4.4
// requires a real plugin manager to honor.
type demoLifecycle struct {
	sched *scheduler.Scheduler
	disp  *events.Dispatcher
}

func (l *demoLifecycle) Disable(owner pluginapi.OwnerID) {
	l.sched.Cancel(owner)
	l.disp.RemovePlugin(owner)
}

// handleDisablePlugin calls lifecycle.Disable for the owner named by the
// "owner" query parameter, the trigger a real plugin manager would fire on
// unload.
func handleDisablePlugin(lifecycle pluginapi.Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		raw := r.URL.Query().Get("owner")
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid or missing owner parameter", http.StatusBadRequest)
			return
		}
		lifecycle.Disable(pluginapi.OwnerID(v))
		w.WriteHeader(http.StatusNoContent)
	}
}

func main() {
	cfg := scheduler.DefaultConfig()
	cfg.TicksPerSecond = envUint64("CORE_TICKS_PER_SECOND", cfg.TicksPerSecond)
	cfg.WorkerThreads = envInt("CORE_WORKER_THREADS", cfg.WorkerThreads)

	sched := scheduler.New(cfg, pluginapi.SystemClock{})
	disp := events.New(sched, eventlog.NewLogPublisher())

	// A real plugin manager would hold this and call Disable(owner) when
	// unloading a plugin, honoring spec.md §4.4's cancel-before-remove_plugin
	// ordering. Here it's reachable through /api/v1/plugins/disable below.
	var lifecycle pluginapi.Lifecycle = &demoLifecycle{sched: sched, disp: disp}

	// A heartbeat task exercising the sync-repeating path end to end.
	sched.ScheduleSyncRepeating(pluginapi.Anonymous, false, func() {
		log.Printf("coredemo: heartbeat at tick %d", sched.UptimeTicks())
	}, task.Idle, cfg.TicksPerSecond, cfg.TicksPerSecond)

	dashSrv := dashboard.NewServer(sched, disp)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/metrics", dashSrv.MetricsHandler())
	mux.Handle("/api/v1/admission", middleware.RequireRole(auth.RoleAdmin, dashSrv.AdmissionHandler()))
	mux.Handle("/api/v1/cancel/owner", middleware.RequireRole(auth.RoleAdmin, dashSrv.CancelOwnerHandler()))
	mux.Handle("/api/v1/cancel/task", middleware.RequireRole(auth.RoleAdmin, dashSrv.CancelTaskHandler()))
	mux.Handle("/api/v1/plugins/disable", middleware.RequireRole(auth.RoleAdmin, handleDisablePlugin(lifecycle)))
	mux.Handle("/ws", dashSrv.WebSocketHandler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	handler := middleware.CORS(mux)

	addr := os.Getenv("CORE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{Addr: addr, Handler: handler}

	fmt.Println("==================================================")
	fmt.Println("pluginforge/core demo host")
	fmt.Println("==================================================")
	fmt.Printf("Ticks per second:  %d\n", cfg.TicksPerSecond)
	fmt.Printf("Worker threads:    %d\n", sched.ThreadCount())
	fmt.Printf("Listen address:    %s\n", addr)
	fmt.Println("==================================================")

	err := apprun.RunAll(context.Background(), 10*time.Second,
		func(ctx context.Context) error {
			sched.Run(ctx)
			return nil
		},
		func(ctx context.Context) error {
			dashSrv.Hub().Run(ctx)
			return nil
		},
		func(ctx context.Context) error {
			errCh := make(chan error, 1)
			go func() { errCh <- httpServer.ListenAndServe() }()
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err == http.ErrServerClosed {
					return nil
				}
				return err
			}
		},
	)
	if err != nil {
		log.Fatalf("coredemo: %v", err)
	}
}
