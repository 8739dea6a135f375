package cmd

import (
	"os"

	"grimm.is/wgtunnel/internal/config"
)

// RunConfig prints the effective daemon configuration with defaults filled
// in.
func RunConfig(configFile string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	if path, _ := config.Path(); configFile == "" {
		Printer.Printf("# %s\n", path)
	} else {
		Printer.Printf("# %s\n", configFile)
	}
	_, err = os.Stdout.Write(config.Encode(cfg))
	return err
}
