package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/toolward/toolward/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and scaffold configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		if used := config.ConfigFileUsed(); used != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "# no config file found, showing defaults")
		}
		cmd.OutOrStdout().Write(out)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter configuration file",
	Long: `Write a starter toolward.yaml with the default settings and an
example policy rule. Refuses to overwrite an existing file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "toolward.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, not overwriting", path)
		}

		cfg := starterConfig()
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

// starterConfig is the scaffold written by `config init`: the defaults plus
// one example rule of each action so the shape is self-documenting.
func starterConfig() config.Config {
	cfg := config.Config{}
	cfg.SetDefaults()
	cfg.Exec.AllowedPaths = []string{"."}
	cfg.Policies = []config.PolicyConfig{
		{
			ID:        "allow-reads",
			Name:      "Auto-approve read-only tools",
			Priority:  100,
			ToolMatch: "read_file",
			Action:    "auto_approve",
		},
		{
			ID:        "deny-force-push",
			Name:      "Never force-push",
			Priority:  200,
			ToolMatch: "git_op",
			Condition: `args.operation == "push" && "--force" in args.args`,
			Action:    "deny",
		},
		{
			ID:        "review-writes",
			Name:      "Writes need a human",
			Priority:  50,
			ToolMatch: "write_file",
			Action:    "require_approval",
		},
	}
	return cfg
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
