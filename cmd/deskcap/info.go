package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/deskcap/internal/capture"
	"github.com/breeze-rmm/deskcap/internal/preflight"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show host support and the duplicated output",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()

		r := preflight.Check()
		fmt.Printf("Host: %s (%s %s, kernel %s, %s)\n", r.Hostname, r.Platform, r.PlatformVersion, r.KernelVersion, r.Architecture)
		if r.CPUModel != "" {
			fmt.Printf("CPU: %s, %d MB RAM\n", r.CPUModel, r.MemoryTotalMB)
		}
		if r.Supported {
			fmt.Println("Desktop Duplication: supported")
		} else {
			fmt.Printf("Desktop Duplication: not supported (%s)\n", r.Reason)
		}
		if r.Reason != "" && r.Supported {
			fmt.Printf("Note: %s\n", r.Reason)
		}

		session, err := capture.NewSession(captureConfig(cfg, nil))
		if err != nil {
			return fmt.Errorf("failed to open capture session: %w", err)
		}
		defer session.Close()

		desc := session.Adapter()
		mode := session.Mode()
		fmt.Printf("Adapter %d: %s (vendor %04x, device %04x, %d MB dedicated)\n",
			cfg.AdapterIndex, desc.Name, desc.VendorID, desc.DeviceID, desc.DedicatedVideoMemory>>20)
		fmt.Printf("Output: %s %s @ %.2f Hz, rotation %d\n", session.OutputName(), mode, mode.RefreshRate, mode.Rotation)
		return nil
	},
}
