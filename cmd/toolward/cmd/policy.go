package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/toolward/toolward/internal/config"
	"github.com/toolward/toolward/internal/service"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage approval policy rules",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configured policy rules",
	Long: `Validate the policy rules in the configuration file: structural checks,
glob patterns, and CEL condition compilation. Exits non-zero when any rule
is invalid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		rules := cfg.Rules()
		usingDefaults := len(rules) == 0
		if usingDefaults {
			rules = service.DefaultRules()
		}

		svc, err := service.NewPolicyService(context.Background(),
			service.StaticRules(nil), slog.New(slog.DiscardHandler))
		if err != nil {
			return err
		}
		if err := svc.ValidateRules(rules); err != nil {
			return fmt.Errorf("policy validation failed: %w", err)
		}

		if usingDefaults {
			fmt.Printf("no rules configured; builtin defaults are valid (%d rules)\n", len(rules))
		} else {
			fmt.Printf("all %d rules are valid\n", len(rules))
		}
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyValidateCmd)
	rootCmd.AddCommand(policyCmd)
}
