package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/once/internal/config"
	"github.com/mattjoyce/once/internal/controller"
	"github.com/mattjoyce/once/internal/doctor"
)

func (c *cli) newDoctorCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration and state directory",
		Long: `doctor validates the effective configuration and inspects the state directory
without changing it: permissions, writability, network filesystems, lock files
left by killed invocations, stamps dated in the future and interrupted writes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Field problems are reported in the doctor result, not as a load error.
			cfg, err := config.Resolve(c.opts.configPath, c.configEnviron())
			if err != nil {
				return err
			}

			result := doctor.New(cfg, c.now).Validate()
			if jsonOut {
				out, err := doctor.FormatJSON(result)
				if err != nil {
					return fmt.Errorf("render doctor JSON: %w", err)
				}
				fmt.Fprintln(c.stdout, out)
			} else {
				if cfg.SourceFile != "" {
					fmt.Fprintf(c.stdout, "Config: %s\n", cfg.SourceFile)
				}
				fmt.Fprintf(c.stdout, "State:  %s\n", cfg.StateDir)
				fmt.Fprint(c.stdout, doctor.FormatHuman(result))
			}

			if !result.Valid {
				c.exitCode = controller.ExitFailure
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the report as JSON")
	return cmd
}
