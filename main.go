// FILE: main.go
// Package main – Program entrypoint: per-stage subcommands + composite drivers.
//
// Boot sequence:
//   1) loadGovEnv()           – read .env (no shell exports required)
//   2) cfg := loadConfigFromEnv() – layer YAML risk policy + env overrides
//   3) g := NewGovernor(cfg)  – wire state dir, broker variant, journal
//   4) dispatch the subcommand
//
// Commands:
//   tick         Single orchestrated tick (default; exit 0 even on HALT)
//   serve        Periodic ticks + Prometheus /metrics and /healthz
//   derisk-loop  Bounded re-entry of greeks→risk-eval→plan→exec→close
//   greeks, risk-eval, derisk-plan, derisk-exec, gateway, open, open-exec,
//   close, poll, book, vertical – run one stage in isolation
//
// A tick exits 0 for every governed outcome including HALT; non-zero exits
// are reserved for unrecoverable I/O failures.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// printJSON pretty-prints a stage result for the operator.
func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("[WARN] print: %v", err)
		return
	}
	fmt.Println(string(data))
}

// stageCommand wraps a stage runner into a cobra command. NO_INPUT and REJECT
// are governed outcomes, not process failures.
func stageCommand(use, short string, run func(g *Governor) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			g := NewGovernor(loadConfigFromEnv())
			out, err := run(g)
			if err != nil {
				var rej *rejectError
				if errors.Is(err, errNoInput) || errors.As(err, &rej) {
					log.Printf("[INFO] %s: %v", use, err)
					return nil
				}
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func main() {
	loadGovEnv()

	root := &cobra.Command{
		Use:          "options-governor",
		Short:        "Options pre-trade risk governor and OMS",
		SilenceUsage: true,
		// bare invocation runs a single tick; that is what the external
		// timer calls
		RunE: func(cmd *cobra.Command, args []string) error {
			g := NewGovernor(loadConfigFromEnv())
			st, err := g.RunTick(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "tick",
		Short: "Run one orchestrated tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			g := NewGovernor(loadConfigFromEnv())
			st, err := g.RunTick(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run periodic ticks with Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	})

	root.AddCommand(stageCommand("derisk-loop", "Bounded de-risk reduction loop", func(g *Governor) (any, error) {
		return g.runDeriskLoop(context.Background())
	}))
	root.AddCommand(stageCommand("book", "Rebuild the positions book from the fills log", func(g *Governor) (any, error) {
		return writePositionsBook(g.sd)
	}))
	root.AddCommand(stageCommand("greeks", "Build the portfolio greeks snapshot", func(g *Governor) (any, error) {
		return buildPortfolioGreeks(g.sd, g.cfg, time.Now())
	}))
	root.AddCommand(stageCommand("risk-eval", "Evaluate portfolio risk and set the mode", func(g *Governor) (any, error) {
		return evaluatePortfolioRisk(g.sd, g.cfg)
	}))
	root.AddCommand(stageCommand("derisk-plan", "Plan greedy reduce-only closes", func(g *Governor) (any, error) {
		return buildDeriskPlan(g.sd, g.cfg)
	}))
	root.AddCommand(stageCommand("derisk-exec", "Turn the de-risk plan into a close intent", func(g *Governor) (any, error) {
		return runDeriskExecute(g.sd, g.cfg)
	}))
	root.AddCommand(stageCommand("gateway", "Gate the candidate intents", func(g *Governor) (any, error) {
		return runGateway(g.sd, g.cfg, demoIntents(g.cfg))
	}))
	root.AddCommand(stageCommand("open", "Issue the OPEN intent", func(g *Governor) (any, error) {
		return runOmsOpen(g.sd, g.cfg, g.jr)
	}))
	root.AddCommand(stageCommand("open-exec", "Consume the OPEN intent", func(g *Governor) (any, error) {
		return runOmsOpenExec(context.Background(), g.sd, g.cfg, g.broker, g.jr)
	}))
	root.AddCommand(stageCommand("close", "Consume the CLOSE intent (reduce-only)", func(g *Governor) (any, error) {
		return runOmsClose(g.sd, g.cfg, g.jr, time.Now())
	}))
	root.AddCommand(stageCommand("poll", "Poll tracked order statuses", func(g *Governor) (any, error) {
		return runOmsPoll(context.Background(), g.sd, g.broker, g.jr)
	}))
	root.AddCommand(stageCommand("vertical", "Walk the two-leg OPEN fill state machine", func(g *Governor) (any, error) {
		return runVerticalOMS(context.Background(), g.sd, g.cfg, g.broker, g.jr)
	}))

	var deallocLong, deallocShort string
	var deallocQty int
	deallocCmd := stageCommand("dealloc", "Size a resolved vertical against the portfolio limits", func(g *Governor) (any, error) {
		return runDealloc(g.sd, g.cfg, deallocLong, deallocShort, deallocQty)
	})
	deallocCmd.Flags().StringVar(&deallocLong, "long", "", "long leg OCC symbol")
	deallocCmd.Flags().StringVar(&deallocShort, "short", "", "short leg OCC symbol")
	deallocCmd.Flags().IntVar(&deallocQty, "qty", 1, "requested spread quantity")
	_ = deallocCmd.MarkFlagRequired("long")
	_ = deallocCmd.MarkFlagRequired("short")
	root.AddCommand(deallocCmd)

	if err := root.Execute(); err != nil {
		log.Printf("[FATAL] %v", err)
		os.Exit(1)
	}
}

// runServe runs the tick loop plus the metrics endpoint until interrupted.
func runServe(parent context.Context) error {
	cfg := loadConfigFromEnv()
	g := NewGovernor(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		log.Printf("serving metrics on :%d/metrics", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.TickIntervalSec <= 0 {
		cfg.TickIntervalSec = 60
	}
	ticker := time.NewTicker(time.Duration(cfg.TickIntervalSec) * time.Second)
	defer ticker.Stop()

	// first tick immediately, then on the interval
	for {
		if st, err := g.RunTick(ctx); err != nil {
			log.Printf("[ERROR] tick: %v", err)
		} else if !st.OK {
			log.Printf("[WARN] tick halted_by=%s state=%s", st.HaltedBy, st.State)
		}
		select {
		case <-ctx.Done():
			shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
			defer c()
			_ = srv.Shutdown(shutdownCtx)
			return nil
		case <-ticker.C:
		}
	}
}
