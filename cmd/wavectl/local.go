package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"waveline/internal/app"
	"waveline/internal/catalog"
	"waveline/internal/config"
	"waveline/internal/db"
	"waveline/internal/domain"
	"waveline/internal/migrate"
	"waveline/internal/repo"
	"waveline/internal/ring"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create waveline.yml and the journal in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Wrote %s and %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

// normalizedCatalog builds the ring and normalizes the configured waves the
// way the orchestrator will.
func normalizedCatalog(cfg *config.Config) ([]domain.SpawnPoint, []domain.WaveSpec, []catalog.Warning, error) {
	points, err := ring.Generate(cfg.Arena.Spawners, cfg.Arena.Radius, cfg.Arena.Height, cfg.Arena.Center)
	if err != nil {
		return nil, nil, nil, err
	}
	waves, warnings := catalog.Normalize(cfg.Waves, len(points), cfg.Spawning.MinInterval)
	return points, waves, warnings, nil
}

func validateCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config and report catalogue corrections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, waves, warnings, err := normalizedCatalog(cfg)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				if warnings == nil {
					warnings = []catalog.Warning{}
				}
				if err := printJSON(map[string]any{"valid": true, "waves": len(waves), "warnings": warnings}); err != nil {
					return err
				}
			} else {
				fmt.Printf("config ok: %d waves, %d spawners, mode %s\n", len(waves), cfg.Arena.Spawners, cfg.Mode)
				for _, w := range warnings {
					fmt.Println("warning:", w)
				}
			}
			if strict && len(warnings) > 0 {
				return fmt.Errorf("%d catalogue corrections", len(warnings))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when the catalogue needed corrections")
	return cmd
}

func catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show the normalized wave catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, waves, _, err := normalizedCatalog(cfg)
			if err != nil {
				return err
			}
			return printJSONOrTable(waves, func(tw table.Writer) {
				tw.AppendHeader(table.Row{"Wave", "Task", "Spawner", "Count", "Interval", "Lasts"})
				total := 0
				for i, w := range waves {
					for j, task := range w.Tasks {
						lasts := time.Duration(float64(task.Count) * task.Interval * float64(time.Second))
						tw.AppendRow(table.Row{i, j, task.Spawner, task.Count, fmt.Sprintf("%.2fs", task.Interval), lasts.String()})
					}
					total += w.TotalEnemies()
				}
				tw.AppendFooter(table.Row{"", "", "", humanize.Comma(int64(total)), "", ""})
			})
		},
	}
}

func spawnersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spawners",
		Short: "Show the spawner ring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			points, _, _, err := normalizedCatalog(cfg)
			if err != nil {
				return err
			}
			return printJSONOrTable(points, func(tw table.Writer) {
				tw.AppendHeader(table.Row{"Index", "X", "Y", "Z", "Yaw"})
				for _, p := range points {
					tw.AppendRow(table.Row{
						p.Index,
						fmt.Sprintf("%.2f", p.Position.X),
						fmt.Sprintf("%.2f", p.Position.Y),
						fmt.Sprintf("%.2f", p.Position.Z),
						fmt.Sprintf("%.1f", p.Yaw),
					})
				}
			})
		},
	}
}

func runCmd() *cobra.Command {
	var waves int
	var fast, quiet bool
	var step time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play waves headless against the simulated world",
		Long:  "Starts each wave as soon as the previous one completes. With --fast the simulation runs on a stepped clock instead of real time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := appOptions()
			var fc clockwork.FakeClock
			if fast {
				fc = clockwork.NewFakeClock()
				opts.Clock = fc
				opts.Logger = log.New(io.Discard, "", 0)
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				play := app.PlayOptions{Waves: waves, Fast: fc, Step: step}
				if !quiet && !viper.GetBool("json") {
					play.OnEvent = printProgress
				}
				summaries, err := a.Play(ctx, play)
				if errors.Is(err, context.Canceled) {
					fmt.Fprintln(os.Stderr, "interrupted")
				} else if err != nil {
					return err
				}
				stats := a.World.Stats()
				return printJSONOrTable(map[string]any{"waves": summaries, "world": stats}, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Wave", "Run", "Outcome", "Emitted", "Skipped", "Removed", "Elapsed"})
					for _, s := range summaries {
						tw.AppendRow(table.Row{s.Wave, shortID(s.RunID), s.Outcome, s.Emitted, s.Skipped, s.Removed, fmt.Sprintf("%.1fs", s.Elapsed)})
					}
					tw.AppendFooter(table.Row{"", "", "leaked/killed", stats.Spawned, "", fmt.Sprintf("%d/%d", stats.Leaked, stats.Killed), ""})
				})
			})
		},
	}
	cmd.Flags().IntVar(&waves, "waves", 0, "number of waves to play (0 = whole catalogue)")
	cmd.Flags().BoolVar(&fast, "fast", false, "run on simulated time")
	cmd.Flags().DurationVar(&step, "step", app.DefaultStep, "simulated time per tick with --fast")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "only print the summary")
	return cmd
}

func printProgress(ev domain.Event) {
	switch ev.Type {
	case domain.EventWaveStarted:
		fmt.Printf("wave %d started: %v enemies\n", ev.Wave, ev.Payload["enemies"])
	case domain.EventWaveDraining, domain.EventWaveCooldown:
		fmt.Printf("wave %d %s\n", ev.Wave, ev.Type[len("wave."):])
	case domain.EventWaveCompleted:
		fmt.Printf("wave %d completed in %.1fs\n", ev.Wave, ev.Payload["elapsed"])
	case domain.EventSpawnSkipped, domain.EventTaskSkipped:
		fmt.Printf("wave %d %s: %v\n", ev.Wave, ev.Type, ev.Payload)
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event journal",
		Long:  "Everything the orchestrator did: wave transitions, spawns, removals and catalogue changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, runID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, repo.EventFilters{Limit: n, Type: evtType, RunID: runID})
				if err != nil {
					return err
				}
				if events == nil {
					events = []domain.Event{}
				}
				now := time.Now()
				return printJSONOrTable(events, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "When", "Type", "Wave", "Entity"})
					for _, ev := range events {
						tw.AppendRow(table.Row{ev.ID, relTime(ev.TS, now), ev.Type, ev.Wave, shortID(ev.EntityID)})
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&runID, "run", "", "run id filter")
	return cmd
}

func runsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List played waves",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				runs, err := r.ListRuns(ctx, n)
				if err != nil {
					return err
				}
				if runs == nil {
					runs = []domain.WaveRun{}
				}
				now := time.Now()
				return printJSONOrTable(runs, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Run", "Wave", "Mode", "Started", "Outcome", "Emitted", "Skipped", "Removed"})
					for _, run := range runs {
						tw.AppendRow(table.Row{shortID(run.ID), run.Wave, run.Mode, relTime(run.StartedAt, now), run.Outcome, run.Emitted, run.Skipped, run.Removed})
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of runs")
	return cmd
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func relTime(ts string, now time.Time) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
