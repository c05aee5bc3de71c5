package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PaceShift/model"

	"github.com/spf13/cobra"
)

var workerStage string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "只运行 worker 池",
	Long:  `不启动 HTTP 服务，只消费分析和/或调速队列。--stage 可选 analysis、adjustment、all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stages, err := parseStages(workerStage)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.runPools(ctx, stages)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerStage, "stage", "all", "analysis, adjustment or all")
	rootCmd.AddCommand(workerCmd)
}

func parseStages(s string) ([]model.Stage, error) {
	switch s {
	case "", "all":
		return model.Stages, nil
	case string(model.StageAnalysis):
		return []model.Stage{model.StageAnalysis}, nil
	case string(model.StageAdjustment):
		return []model.Stage{model.StageAdjustment}, nil
	default:
		return nil, fmt.Errorf("unknown stage %q", s)
	}
}
