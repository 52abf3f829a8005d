package main

import (
	"context"

	"github.com/metalagman/trellis/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the completion webhook",
		Long:  "Serve the completion webhook: merged change requests close their task, unlock dependents and trigger a dispatch pass.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			app := fx.New(
				fx.NopLogger,
				fx.Supply(a),
				fx.Provide(newWebhookServer),
				fx.Invoke(registerServer),
			)
			if err := app.Err(); err != nil {
				return err
			}

			startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}

			select {
			case sig := <-app.Done():
				log.Info().Str("signal", sig.String()).Msg("stopping")
			case <-ctx.Done():
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
			defer stopCancel()
			return app.Stop(stopCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newWebhookServer(a *app) (*server.Server, error) {
	handler, err := a.completer()
	if err != nil {
		return nil, err
	}
	secret := a.cfg.WebhookSecret()
	if secret == "" {
		log.Warn().Str("env", a.cfg.Server.SecretEnv).Msg("webhook secret is not set, signatures are not verified")
	}
	return server.New(server.Config{
		Addr:      a.cfg.Server.Addr,
		Secret:    secret,
		Completer: handler,
		Gatherer:  a.metrics.Registry(),
		Tasks:     a.store,
		Lock:      a.lock,
	}), nil
}

func registerServer(lc fx.Lifecycle, sd fx.Shutdowner, s *server.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := s.Start(); err != nil {
					log.Error().Err(err).Msg("webhook server failed")
					_ = sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Shutdown(ctx)
		},
	})
}
