package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	grpcclient "github.com/dtroode/storefront-session/internal/api/grpc/client"
	"github.com/dtroode/storefront-session/internal/api/grpc/interceptor"
	"github.com/dtroode/storefront-session/internal/model"
	"github.com/dtroode/storefront-session/internal/storage/file"
	"github.com/dtroode/storefront-session/internal/token"
)

func withApp(reg prometheus.Registerer, run func(ctx context.Context, cmd *cobra.Command, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, reg)
		if err != nil {
			return err
		}
		defer a.close()
		return run(ctx, cmd, a)
	}
}

func loginCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the token pair",
		RunE: withApp(nil, func(ctx context.Context, cmd *cobra.Command, a *app) error {
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			sess, err := a.manager.Login(ctx, model.Credentials{Username: username, Password: password})
			if err != nil {
				return err
			}
			who := sess.Subject
			if sess.Profile != nil {
				who = fmt.Sprintf("%s <%s>", sess.Profile.Username, sess.Profile.Email)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s, access token expires at %s\n",
				who, sess.ExpiresAt.Format(time.RFC3339))
			return nil
		}),
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password, read from stdin when empty")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the session and clear the stored tokens",
		RunE: withApp(nil, func(ctx context.Context, cmd *cobra.Command, a *app) error {
			if err := a.manager.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		}),
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		RunE: withApp(nil, func(ctx context.Context, cmd *cobra.Command, a *app) error {
			out := cmd.OutOrStdout()

			pair, err := a.store.Load(ctx)
			if errors.Is(err, model.ErrNotFound) {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to load tokens: %w", err)
			}

			subject, _ := token.Subject(pair.Access)
			fmt.Fprintf(out, "Subject: %s\n", subject)
			if exp, err := token.ExpiresAt(pair.Access); err == nil {
				fmt.Fprintf(out, "Access token expires: %s\n", exp.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "Authenticated: %t\n", a.manager.IsAuthenticated(ctx))
			fmt.Fprintf(out, "Refresh due: %t\n", a.manager.IsExpired(pair.Access, a.cfg.Session.RefreshSkew))
			fmt.Fprintf(out, "Refresh token stored: %t\n", pair.Refresh != "")
			return nil
		}),
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Fetch the profile of the logged in user",
		RunE: withApp(nil, func(ctx context.Context, cmd *cobra.Command, a *app) error {
			profile, err := a.client.Authorized(a.manager).Profile(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", profile.Username, profile.Email)
			return nil
		}),
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		RunE: withApp(nil, func(ctx context.Context, cmd *cobra.Command, a *app) error {
			access, err := a.manager.Refresh(ctx)
			if err != nil {
				return err
			}
			exp, err := token.ExpiresAt(access)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Access token refreshed")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Access token refreshed, expires at %s\n", exp.Format(time.RFC3339))
			return nil
		}),
	}
}

func watchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the session fresh until interrupted",
		RunE: withApp(prometheus.DefaultRegisterer, func(ctx context.Context, _ *cobra.Command, a *app) error {
			if interval <= 0 {
				interval = a.cfg.Session.CheckInterval
			}

			g, ctx := errgroup.WithContext(ctx)

			if a.cfg.Metrics.Address != "" {
				g.Go(func() error {
					return serveMetrics(ctx, a, a.cfg.Metrics.Address)
				})
			}

			if fs, ok := a.store.(*file.Store); ok {
				g.Go(func() error {
					return fs.Watch(ctx, func() {
						if err := a.manager.Clear(ctx, model.EndReasonExternalClear); err != nil {
							a.logger.Error("failed to clear session", "error", err)
						}
					})
				})
			}

			g.Go(func() error {
				a.logger.Info("Watching session", "interval", interval.String())
				return a.manager.Watch(ctx, interval)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			a.logger.Info("shutdown complete")
			return nil
		}),
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Check interval, defaults to SESSION_CHECK_INTERVAL")

	return cmd
}

func serveMetrics(ctx context.Context, a *app, addr string) error {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error during metrics server shutdown", "error", err, "address", addr)
		}
	}()

	a.logger.Info("Starting metrics server on", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

func pingCmd() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check the gRPC backend health with the session credential",
		RunE: withApp(nil, func(ctx context.Context, cmd *cobra.Command, a *app) error {
			cfg := a.cfg.GRPC
			if cfg.Address == "" {
				return errors.New("GRPC_ADDRESS is not set")
			}

			var sl model.SecurityLayer = grpcclient.NewPlainSecurity()
			if cfg.EnableTLS {
				sl = grpcclient.NewTLSSecurity(cfg.CAFileName, "")
			}

			client, err := grpcclient.NewGRPCClient(cfg.Address, sl,
				interceptor.DialOptions(a.manager, a.logger, cfg.PublicMethods)...)
			if err != nil {
				return err
			}
			defer client.Close()

			status, err := client.Health(ctx, service)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", client.Address(), status)
			return nil
		}),
	}

	cmd.Flags().StringVar(&service, "service", "", "Service name to check, empty for the whole server")

	return cmd
}
