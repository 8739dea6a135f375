package cmd

import (
	"context"

	"grimm.is/wgtunnel/internal/brand"
)

// RunVersion prints the program version and, when it can be determined,
// the version of the active backend.
func RunVersion(configFile string) error {
	Printer.Printf("%s version %s (%s, built %s)\n", brand.Name, brand.Version, brand.GitCommit, brand.BuildTime)

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	ctx := context.Background()
	app, err := NewApp(ctx, cfg, AppOptions{})
	if err != nil {
		Printer.Printf("backend: unavailable (%v)\n", err)
		return nil
	}
	defer app.Close()

	v, err := app.Backend.GetVersion(ctx)
	if err != nil {
		Printer.Printf("%s backend: version unknown (%v)\n", app.Backend.Kind(), err)
		return nil
	}
	Printer.Printf("%s backend: %s\n", app.Backend.Kind(), v)
	return nil
}
