package cmd

import (
	"fmt"
	"time"

	"PaceShift/cache"
	"PaceShift/core/auth"
	"PaceShift/core/pipeline"
	"PaceShift/model"

	"github.com/spf13/cobra"
)

var (
	quotaUser string
	quotaRole string
	tokenTTL  time.Duration
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "查看用户今日配额使用情况",
	Long:  `只读查询，不会消耗配额`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if quotaUser == "" {
			return fmt.Errorf("--user is required")
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		caller := pipeline.Caller{UserID: quotaUser, Role: model.Role(quotaRole)}
		fmt.Printf("用户 %s (%s)，距离 UTC 零点重置还有 %ds\n",
			quotaUser, quotaRole, cache.SecondsUntilUTCMidnight(time.Now()))
		for _, u := range a.service.Usage(cmd.Context(), caller) {
			if u.Unlimited {
				fmt.Printf("  %-10s 已用 %d (不限)\n", u.Kind, u.Used)
				continue
			}
			fmt.Printf("  %-10s 已用 %d / %d\n", u.Kind, u.Used, u.Limit)
		}
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发测试用 JWT",
	RunE: func(cmd *cobra.Command, args []string) error {
		if quotaUser == "" {
			return fmt.Errorf("--user is required")
		}
		token, err := auth.NewTokenService(cfg.JWTSecret).GenerateToken(quotaUser, model.Role(quotaRole), tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{quotaCmd, tokenCmd} {
		c.Flags().StringVar(&quotaUser, "user", "", "user id")
		c.Flags().StringVar(&quotaRole, "role", string(model.RoleFree), "plan role")
		rootCmd.AddCommand(c)
	}
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
