package cmd

import (
	"context"
	"fmt"

	"grimm.is/wgtunnel/internal/brand"
)

// RunTools manages the wg and wg-quick binaries used by the wg-quick
// backend: "status" compares them with the system copies, "extract" copies
// them into the private binary directory and "install" installs them system
// wide.
func RunTools(configFile string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s tools status|extract|install", brand.BinaryName)
	}
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	ctx := context.Background()
	app, err := NewApp(ctx, cfg, AppOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	switch args[0] {
	case "status":
		Printer.Printf("Binary directory: %s\n", cfg.BinaryDir)
		if dir := app.Tools.InstallDir(); dir != "" {
			Printer.Printf("Install directory: %s\n", dir)
		}
		Printer.Printf("Installed: %s\n", app.Tools.AreInstalled(ctx))
	case "extract":
		extracted, err := app.Tools.Extract()
		if err != nil {
			return err
		}
		if extracted {
			Printer.Printf("Tools extracted to %s\n", cfg.BinaryDir)
		} else {
			Printer.Printf("Tools already present in %s\n", cfg.BinaryDir)
		}
	case "install":
		status, err := app.Tools.Install(ctx)
		if err != nil {
			return err
		}
		Printer.Printf("Installed: %s\n", status)
	default:
		return fmt.Errorf("unknown tools command %q", args[0])
	}
	return nil
}
