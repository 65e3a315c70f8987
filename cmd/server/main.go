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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	router "github.com/dkeye/syncroom/internal/adapters/http"
	wssignal "github.com/dkeye/syncroom/internal/adapters/signal"
	"github.com/dkeye/syncroom/internal/adapters/store"
	"github.com/dkeye/syncroom/internal/app"
	"github.com/dkeye/syncroom/internal/config"
	"github.com/dkeye/syncroom/internal/logging"
	"github.com/dkeye/syncroom/internal/metrics"
)

var cfgFile string

func main() {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:           "syncroom",
		Short:         "Real-time room synchronization server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.ReadFile(v, cfgFile)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	setupFlags(rootCmd, v)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.Int("port", v.GetInt("port"), "HTTP listen port")
	flags.String("data-file", v.GetString("data_file"), "Room registry file")
	flags.String("log-level", v.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.Duration("ping-period", v.GetDuration("ping_period"), "Liveness ping period")

	bindFlag(cmd, v, "port", "port")
	bindFlag(cmd, v, "data_file", "data-file")
	bindFlag(cmd, v, "log.level", "log-level")
	bindFlag(cmd, v, "ping_period", "ping-period")
}

func bindFlag(cmd *cobra.Command, v *viper.Viper, key, flag string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func runServer(parent context.Context, cfg *config.Config) error {
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if cfg.InsecureSecret() {
		log.Warn().Str("module", "main").Msg("secret is the built-in default; set SYNCROOM_SECRET for release deployments")
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	rooms := app.NewRoomManager(store.NewOSFileStore(cfg.DataFile))
	m.ObserveRooms(rooms.RoomCount, rooms.TotalConnections)

	opts := wssignal.DefaultOptions()
	opts.ReadLimit = cfg.ReadLimit
	opts.SendBuffer = cfg.SendBuffer
	opts.JoinAttempts = cfg.JoinLimit.Attempts
	opts.JoinInterval = cfg.JoinLimit.Interval
	ctl := wssignal.NewSignalWSController(rooms, app.SimplePolicy{}, m, opts)

	supervisor := wssignal.NewSupervisor(cfg.PingPeriod, ctl.Conns().Pingers, m)
	go supervisor.Run(ctx)

	r := router.SetupRouter(ctx, cfg, router.Dependencies{
		Rooms:   rooms,
		Signal:  ctl,
		Metrics: m,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("data_file", cfg.DataFile).Msg("syncroom server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server error")
			return err
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
