package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coursepulse/notifyd/internal/api"
	"github.com/coursepulse/notifyd/internal/config"
	"github.com/coursepulse/notifyd/internal/db"
	"github.com/coursepulse/notifyd/internal/hub"
	"github.com/coursepulse/notifyd/internal/logging"
	"github.com/coursepulse/notifyd/internal/store"
)

func Main() {
	var cfgPath string

	root := &cobra.Command{Use: "notifyd", Short: "Real-time notification hub daemon"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml)")

	root.AddCommand(migrateCmd(&cfgPath))
	root.AddCommand(serveCmd(&cfgPath))
	root.AddCommand(tokenCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			dbConn, err := db.Open(ctx, cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer dbConn.Close()
			return db.ApplyMigrations(ctx, dbConn)
		},
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the notification hub and API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			logging.Init(cfg.Log.Level)
			log := logging.Component("daemon")

			ctx := context.Background()
			dbConn, err := db.Open(ctx, cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer dbConn.Close()
			if err := db.ApplyMigrations(ctx, dbConn); err != nil {
				return err
			}

			st := store.New(dbConn)
			h := hub.New(cfg, st, st)

			bgCtx, bgCancel := context.WithCancel(context.Background())
			defer bgCancel()
			if err := h.Start(bgCtx); err != nil {
				return err
			}

			a := api.New(cfg, st, st, h)
			srv := &http.Server{Addr: cfg.API.Listen, Handler: a.Router()}

			go func() {
				log.Info().Str("listen", cfg.API.Listen).Msg("notifyd listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("listen error")
				}
			}()

			stop := make(chan os.Signal, 2)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			log.Info().Msg("shutting down")

			shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.Shutdown(shCtx); err != nil {
				log.Warn().Err(err).Msg("hub drain incomplete")
			}
			if err := srv.Shutdown(shCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}

// tokenCmd mints a development bearer token. Production tokens come from
// the platform's auth service; this exists so local clients can hit /ws
// without standing that service up.
func tokenCmd(cfgPath *string) *cobra.Command {
	var user string
	var role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token for the /ws endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			signed, err := hub.NewAuthenticator(cfg.Auth.Secret).Issue(user, role, ttl)
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user id to embed in the token")
	cmd.Flags().StringVar(&role, "role", "student", "role to embed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: auth.token_ttl_minutes)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
