package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/deskcap/internal/config"
)

var configWrite string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		if configWrite != "" {
			if err := config.SaveTo(cfg, configWrite); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Config written to %s\n", configWrite)
			return nil
		}

		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	configCmd.Flags().StringVar(&configWrite, "write", "", "write the effective configuration to this file instead of printing it")
}
