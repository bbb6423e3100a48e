package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/events"
)

func researchCMD() *cobra.Command {
	var cfgPath string
	var outPath string
	var showPlan bool
	var maxIterations int

	cmd := &cobra.Command{
		Use:   "research [query]",
		Short: "Run one research query end to end and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			cfg := config.MustLoad(cfgPath)
			if maxIterations > 0 {
				cfg.Research.MaxIterations = maxIterations
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus := events.NewBus(nil)
			defer bus.Close()

			unsub := bus.Subscribe(
				events.ForKinds(events.KindPhaseChanged, events.KindTaskCompleted, events.KindTaskFailed),
				func(ev events.Event) {
					switch ev.Kind {
					case events.KindPhaseChanged:
						fmt.Fprintf(os.Stderr, "phase: %v\n", ev.Payload["phase"])
					case events.KindTaskFailed:
						fmt.Fprintf(os.Stderr, "task %s failed: %v\n", ev.TaskID, ev.Payload["error"])
					default:
						fmt.Fprintf(os.Stderr, "task %s done (%v)\n", ev.TaskID, ev.Payload["status"])
					}
				})
			defer unsub()

			engine, provider, err := buildEngine(cfg, bus)
			if err != nil {
				return err
			}

			run, err := engine.NewRun(ctx, query)
			if err != nil {
				return err
			}
			if showPlan {
				plan := run.Plan()
				fmt.Fprintf(os.Stderr, "plan (%s): %s\n", plan.Intent, plan.Summary)
				for _, t := range plan.Tasks {
					fmt.Fprintf(os.Stderr, "  - [%s] %s\n", t.Kind, t.Target)
				}
			}

			// One-shot mode has no approval round trip.
			if err := engine.Approve(run); err != nil {
				return err
			}
			if err := engine.Execute(ctx, run); err != nil {
				return err
			}

			if run.Partial() {
				fmt.Fprintln(os.Stderr, "note: iteration budget exhausted, report is partial")
			}
			usage := provider.Usage()
			fmt.Fprintf(os.Stderr, "model usage: %d prompt + %d completion tokens (~$%.4f)\n",
				usage.PromptTokens, usage.CompletionTokens, usage.Cost)

			report := run.Report()
			if outPath != "" {
				return os.WriteFile(outPath, []byte(report), 0o644)
			}
			fmt.Println(report)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&outPath, "out", "", "write the report to a file instead of stdout")
	cmd.Flags().BoolVar(&showPlan, "show-plan", false, "print the approved plan before executing")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the iteration budget")
	return cmd
}
