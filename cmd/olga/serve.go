package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/olga/go-assistant/internal/logging"
	"github.com/danielpatrickdp/olga/go-assistant/internal/rpc"
	"github.com/danielpatrickdp/olga/go-assistant/internal/server"
)

var (
	serveHTTPAddr string
	serveGRPCAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket and gRPC servers",
	Long: `Serves /ws (one session per connection), /healthz and /metrics over HTTP and
the olga.v1.Assistant service over gRPC. Empty addresses fall back to the
server section of the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, a)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc", "", "gRPC listen address")
}

// #region serve
func runServe(ctx context.Context, a *app) error {
	cfg := a.loader.Config()
	httpAddr := serveHTTPAddr
	if httpAddr == "" {
		httpAddr = cfg.Server.HTTPAddr
	}
	grpcAddr := serveGRPCAddr
	if grpcAddr == "" {
		grpcAddr = cfg.Server.GRPCAddr
	}

	httpSrv := server.New(server.Config{
		Addr:          httpAddr,
		AlarmInterval: cfg.Alarm.CheckInterval,
	}, a.newSession, logging.Component(a.log, "server"))

	svc := rpc.NewService(a.newSession, logging.Component(a.log, "rpc"),
		rpc.WithIdleTTL(cfg.Server.SessionIdleTTL), rpc.WithMaxSessions(cfg.Server.MaxSessions))
	defer svc.Close()
	grpcSrv := rpc.NewServer(svc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.Start)
	if grpcAddr != "" {
		g.Go(func() error {
			a.log.Info().Str("addr", grpcAddr).Msg("grpc server starting")
			return rpc.Serve(grpcSrv, grpcAddr)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
// #endregion serve
