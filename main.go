package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"watchrelay/internal/bootstrap"
	"watchrelay/internal/config"
	"watchrelay/internal/logging"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:          "watchrelay",
		Short:        "Relay wearable gestures and push-to-talk audio to a desktop listener",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (environment variables take precedence)")

	rootCmd.AddCommand(runCmd(&cfgFile))
	rootCmd.AddCommand(listenCmd(&cfgFile))
	return rootCmd
}

func runCmd(cfgFile *string) *cobra.Command {
	var address, policy string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the listener and relay commands typed on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx, *cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("address") {
				cfg.Relay.Address = address
			}
			if cmd.Flags().Changed("policy") {
				cfg.Relay.Policy = policy
			}

			logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
			services, err := bootstrap.Build(cfg, logger)
			if err != nil {
				return err
			}

			return NewApp(services, os.Stdin, cmd.OutOrStdout(), logger).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "listener address: host:port, ws://, wss://, mqtt:// or mqtts://")
	cmd.Flags().StringVar(&policy, "policy", "", "admission policy while disconnected: drop or queue")
	return cmd
}

func listenCmd(cfgFile *string) *cobra.Command {
	var addr, wsAddr, recordDir string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Receive relay traffic, log it and optionally record audio sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx, *cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Listener.Addr = addr
			}
			if cmd.Flags().Changed("ws-addr") {
				cfg.Listener.WSAddr = wsAddr
			}
			if cmd.Flags().Changed("record-dir") {
				cfg.Listener.RecordDir = recordDir
			}

			logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
			services, err := bootstrap.BuildListener(cfg, logger)
			if err != nil {
				return err
			}
			return serveListener(ctx, services)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "TCP listen address (default :5001)")
	cmd.Flags().StringVar(&wsAddr, "ws-addr", "", "WebSocket listen address, disabled when empty")
	cmd.Flags().StringVar(&recordDir, "record-dir", "", "directory for recorded WAV sessions")
	return cmd
}

func serveListener(ctx context.Context, services bootstrap.ListenerServices) error {
	cfg := services.Config
	if cfg.Listener.Addr == "" && cfg.Listener.WSAddr == "" {
		return fmt.Errorf("no listen address configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Listener.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Listener.Addr)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return services.Server.Serve(ctx, ln)
		})
	}
	if cfg.Listener.WSAddr != "" {
		srv := &http.Server{
			Addr:              cfg.Listener.WSAddr,
			Handler:           services.Server,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
