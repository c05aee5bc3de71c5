package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"PaceShift/core/auth"
	"PaceShift/model"
	"PaceShift/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serverWithWorkers bool

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 HTTP 服务",
	Long:  `启动 HTTP 服务，默认同时在进程内运行分析与调速 worker 池`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context(), serverWithWorkers)
	},
}

func init() {
	serverCmd.Flags().BoolVar(&serverWithWorkers, "workers", true, "run both worker pools in-process")
	rootCmd.AddCommand(serverCmd)
}

func runServer(parent context.Context, withWorkers bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.NewServer(cfg, a.service, auth.NewTokenService(cfg.JWTSecret)).
		WithProber(a.ffmpeg).
		WithMetrics(prometheus.DefaultGatherer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	if withWorkers {
		g.Go(func() error { return a.runPools(gctx, model.Stages) })
	}
	return g.Wait()
}
