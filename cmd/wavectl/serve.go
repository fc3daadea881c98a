package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"waveline/internal/app"
	"waveline/internal/config"
	"waveline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long:  "Serves the wave controls, the journal and a live websocket stream. The JWT secret is read from WAVELINE_JWT_SECRET.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := appOptions()
			a, err := app.Open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			authCfg := server.AuthConfig{
				JWTSecret:      viper.GetString("jwt-secret"),
				AllowAnonymous: a.Config.Server.AllowAnonymous,
				Logger:         app.ComponentLogger(opts.Logger, "auth"),
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowAnonymous {
				return fmt.Errorf("WAVELINE_JWT_SECRET is required unless server.allow_anonymous is set")
			}
			handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			if watch {
				if err := watchConfig(a, opts); err != nil {
					opts.Logger.Printf("WARNING: config watch disabled: %v", err)
				}
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				fmt.Printf("Serving Waveline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return server.NewWebhookDispatcher(a.Repo, a.Config.Webhooks, app.ComponentLogger(opts.Logger, "webhook")).Run(ctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the wave catalogue when the config file changes")
	return cmd
}

// watchConfig reloads waves from the config file on every write. A broken
// file is logged and the running catalogue kept.
func watchConfig(a *app.App, opts app.Options) error {
	path := opts.ConfigPath
	if path == "" {
		path = config.Path(opts.Workspace)
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	logger := app.ComponentLogger(opts.Logger, "config")
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Printf("WARNING: reload %s: %v", path, err)
			return
		}
		cfg, err := config.FromYAML(data)
		if err != nil {
			logger.Printf("WARNING: reload %s: %v", path, err)
			return
		}
		warnings := a.Reload(cfg)
		logger.Printf("reloaded %d waves from %s", len(cfg.Waves), path)
		for _, w := range warnings {
			logger.Printf("WARNING: %s", w)
		}
	})
	v.WatchConfig()
	return nil
}
