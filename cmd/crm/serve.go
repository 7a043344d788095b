package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jconstantine618/ai-consulting-crm/internal/app"
	"github.com/jconstantine618/ai-consulting-crm/internal/assistant"
	"github.com/jconstantine618/ai-consulting-crm/internal/assistant/gemini"
	"github.com/jconstantine618/ai-consulting-crm/internal/config"
	"github.com/jconstantine618/ai-consulting-crm/internal/metrics"
	"github.com/jconstantine618/ai-consulting-crm/internal/server"
	"github.com/jconstantine618/ai-consulting-crm/internal/session"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			loadDotEnv(workspace)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Open(ctx, app.Options{Workspace: workspace, Notify: true})
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.Config
			if cmd.Flags().Changed("addr") || cfg.Server.Addr == "" {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") || cfg.Server.BasePath == "" {
				cfg.Server.BasePath = basePath
			}

			authCfg := server.AuthConfig{
				JWTSecret:       viper.GetString("jwt-secret"),
				AllowUserHeader: cfg.Server.AllowUserHeader,
				TokenTTL:        cfg.Server.TokenTTL,
				Logger:          a.Log.Named("auth"),
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CRM_JWT_SECRET is required for bearer auth")
			}
			ext, err := newExtractor(ctx, cfg, a.Log)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			if err := metrics.Register(reg); err != nil {
				return err
			}

			sessions := session.NewManager(a.Engine, session.Options{
				Extractor:      ext,
				ExtractTimeout: cfg.Assistant.ExtractTimeout,
				ExecuteTimeout: cfg.Assistant.ExecuteTimeout,
				Log:            a.Log,
			})
			defer sessions.Close()
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Sessions: sessions,
				BasePath: cfg.Server.BasePath,
				Auth:     authCfg,
				Log:      a.Log.Named("http"),
				Gatherer: reg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			if err := a.Start(gctx); err != nil {
				return err
			}
			g.Go(func() error {
				return sessions.Run(gctx, cfg.Server.SessionIdle, 0)
			})
			g.Go(func() error {
				return server.NewWebhookDispatcher(a.Engine, cfg.Webhooks, a.Log).Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				a.Log.Info("serving CRM API",
					zap.String("addr", "http://"+cfg.Server.Addr+cfg.Server.BasePath),
					zap.String("docs", "/docs"),
					zap.String("app_id", cfg.App.ID))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 signing secret (env CRM_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func newExtractor(ctx context.Context, cfg *config.Config, log *zap.Logger) (assistant.Extractor, error) {
	key := cfg.Assistant.APIKey()
	if key == "" {
		return nil, fmt.Errorf("%s is required for the assistant", cfg.Assistant.APIKeyEnv)
	}
	return gemini.New(ctx, gemini.Config{
		APIKey:  key,
		Model:   cfg.Assistant.Model,
		BaseURL: cfg.Assistant.BaseURL,
		Log:     log.Named("gemini"),
	})
}
