package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cloven/internal/pipeline"
)

func newStrategiesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the built-in strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			def := pipeline.DefaultStrategy
			if cfg, err := ctx.ensureConfig(); err == nil && cfg.Instance.Strategy != "" {
				def = strings.ToUpper(cfg.Instance.Strategy)
			}
			rows := make([][]string, 0)
			for _, s := range pipeline.Strategies() {
				code := s.Code
				if code == def {
					code += "*"
				}
				rows = append(rows, []string{code, s.Name, s.Sequence(), s.Description})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable("", []column{left("Code"), left("Name"), left("Stages"), left("Description")}, rows))
			fmt.Fprintln(cmd.OutOrStdout(), "* configured default")
			return nil
		},
	}
}
