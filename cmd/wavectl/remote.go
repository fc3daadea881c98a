package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"waveline/internal/server"
	"waveline/internal/tui"
	wavelinesdk "waveline/sdk/go"
)

func tokenCmd() *cobra.Command {
	var subject string
	var roles, perms []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with WAVELINE_JWT_SECRET (dev only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), subject, roles, perms, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": token, "subject": subject, "roles": roles})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "local-operator", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", []string{"operator"}, "roles to grant")
	cmd.Flags().StringSliceVar(&perms, "permission", nil, "extra permissions to grant")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 = no expiry)")
	return cmd
}

func printStatus(st wavelinesdk.Status) error {
	return printJSONOrTable(st, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"State", "Mode", "Wave", "Live", "Tasks", "Elapsed", "Run"})
		wave := fmt.Sprintf("%d/%d", st.CurrentWaveIndex, st.TotalWaves)
		if st.EndlessRound > 0 {
			wave = fmt.Sprintf("%s +%d", wave, st.EndlessRound)
		}
		tw.AppendRow(table.Row{st.State, st.Mode, wave, st.LiveEnemyCount, st.ActiveTasks, fmt.Sprintf("%.1fs", st.ElapsedTime), shortID(st.RunID)})
	})
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the server's orchestrator status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().Status(cmd.Context())
			if err != nil {
				return err
			}
			return printStatus(st)
		},
	}
}

func controlCmd(use, short string, op func(*wavelinesdk.Client, context.Context) (wavelinesdk.Status, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := op(client(), cmd.Context())
			if err != nil {
				return err
			}
			return printStatus(st)
		},
	}
}

func startCmd() *cobra.Command {
	return controlCmd("start", "Start the next wave", (*wavelinesdk.Client).StartNextWave)
}

func stopCmd() *cobra.Command {
	return controlCmd("stop", "Stop the active wave", (*wavelinesdk.Client).StopWave)
}

func resetCmd() *cobra.Command {
	return controlCmd("reset", "Rewind the catalogue to the first wave", (*wavelinesdk.Client).Reset)
}

func watchCmd() *cobra.Command {
	var raw bool
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of a running server",
		Long:  "Draws the spawner ring, live enemies and recent events. Keys: n next wave, s stop, r reset, q quit. With --raw, prints the raw stream frames as JSON instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			if raw {
				return c.Stream(cmd.Context(), func(f wavelinesdk.Frame) error {
					return printJSON(f)
				})
			}
			return tui.Run(cmd.Context(), c, every)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print stream frames instead of drawing")
	cmd.Flags().DurationVar(&every, "every", time.Second, "refresh interval")
	return cmd
}
