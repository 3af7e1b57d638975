package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/api"
	"github.com/Veraticus/tally/internal/certs"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/feedback"
	"github.com/Veraticus/tally/internal/metrics"
	"github.com/Veraticus/tally/internal/rules"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the categorization API over HTTP",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "listen address (default server.addr)")
	cmd.Flags().Bool("tls", false, "serve HTTPS with a self-signed certificate (default server.tls)")
	cmd.Flags().StringSlice("host", nil, "extra host names or IPs for the certificate")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if appCfg.Server.JWTSecret == "" {
		return fmt.Errorf("%w: server.jwt_secret is required", common.ErrMissingConfig)
	}
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = appCfg.Server.Addr
	}

	store, err := openStorage(ctx, appCfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	eng, cleanup, err := newEngine(ctx, appCfg, store)
	if err != nil {
		return err
	}
	defer cleanup()

	router := api.NewRouter(api.Deps{
		Engine:     eng,
		Feedback:   feedback.NewRecorder(store, appCfg.Categorization.PromotionThreshold),
		Metrics:    metrics.NewAggregator(store),
		Rules:      rules.NewManager(store),
		Categories: store,
		JWTSecret:  []byte(appCfg.Server.JWTSecret),
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	useTLS := appCfg.Server.TLS
	if cmd.Flags().Changed("tls") {
		useTLS, _ = cmd.Flags().GetBool("tls")
	}
	if useTLS {
		hosts, _ := cmd.Flags().GetStringSlice("host")
		certStore := certs.NewStore(appCfg.Server.CertDir, hosts...)
		if srv.TLSConfig, err = certStore.TLSConfig(); err != nil {
			return fmt.Errorf("failed to prepare TLS: %w", err)
		}
		slog.Info("Serving HTTPS", "certificate", certStore.CertFile())
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", addr, "tls", useTLS)
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if appCfg.Server.JWTSecret == "" {
				return fmt.Errorf("%w: server.jwt_secret is required", common.ErrMissingConfig)
			}
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := api.NewToken([]byte(appCfg.Server.JWTSecret), scope.UserID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "user the token authenticates as")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}
