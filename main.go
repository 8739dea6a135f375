package main

import (
	"errors"
	"flag"
	"os"

	"grimm.is/wgtunnel/cmd"
	"grimm.is/wgtunnel/internal/backend"
	"grimm.is/wgtunnel/internal/brand"
	"grimm.is/wgtunnel/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

// configFlag registers -config/-c on fs.
func configFlag(fs *flag.FlagSet) *string {
	configFile := fs.String("config", "", "Daemon configuration file (default $"+brand.ConfigEnvPrefix+"_CONFIG or "+brand.ConfigFilePath()+")")
	fs.StringVar(configFile, "c", "", "Daemon configuration file (short)")
	return configFile
}

// tunnelArgs parses a subcommand that takes a tunnel name.
func tunnelArgs(name string, args []string) (configFile, tunnel string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cf := configFlag(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		printer.Fprintf(os.Stderr, "Usage: %s %s [-c config] <tunnel>\n", brand.BinaryName, name)
		os.Exit(1)
	}
	return *cf, fs.Arg(0)
}

func fail(action string, err error) {
	printer.Fprintf(os.Stderr, "%s failed: %v\n", action, err)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "up", "down", "toggle":
		configFile, name := tunnelArgs(os.Args[1], os.Args[2:])
		want, _ := backend.ParseState(os.Args[1])
		if err := cmd.RunSetState(configFile, name, want); err != nil {
			fail(os.Args[1], err)
		}

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		configFile := configFlag(fs)
		fs.Parse(os.Args[2:])
		if err := cmd.RunStatus(*configFile); err != nil {
			fail("Status", err)
		}

	case "stats":
		configFile, name := tunnelArgs("stats", os.Args[2:])
		if err := cmd.RunStats(configFile, name); err != nil {
			fail("Stats", err)
		}

	case "show":
		fs := flag.NewFlagSet("show", flag.ExitOnError)
		configFile := configFlag(fs)
		userspace := fs.Bool("userspace", false, "Print engine settings instead of wg-quick format")
		fs.BoolVar(userspace, "u", false, "Print engine settings (short)")
		fs.Parse(os.Args[2:])
		if fs.NArg() != 1 {
			printer.Fprintf(os.Stderr, "Usage: %s show [-u] <tunnel>\n", brand.BinaryName)
			os.Exit(1)
		}
		if err := cmd.RunShow(*configFile, fs.Arg(0), *userspace); err != nil {
			fail("Show", err)
		}

	case "check":
		fs := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := fs.Bool("verbose", false, "Verbose output")
		fs.BoolVar(verbose, "v", false, "Verbose output (short)")
		fs.Parse(os.Args[2:])
		if err := cmd.RunCheck(fs.Arg(0), *verbose); err != nil {
			fail("Check", err)
		}

	case "diff":
		fs := flag.NewFlagSet("diff", flag.ExitOnError)
		configFile := configFlag(fs)
		fs.Parse(os.Args[2:])
		if fs.NArg() != 2 {
			printer.Println("Usage: " + brand.BinaryName + " diff <tunnel> <file>")
			os.Exit(1)
		}
		if err := cmd.RunDiff(*configFile, fs.Arg(0), fs.Arg(1)); err != nil {
			if errors.Is(err, cmd.ErrConfigDiffers) {
				os.Exit(1)
			}
			fail("Diff", err)
		}

	case "genkey":
		if err := cmd.RunGenKey(os.Stdout); err != nil {
			fail("genkey", err)
		}

	case "genpsk":
		if err := cmd.RunGenPSK(os.Stdout); err != nil {
			fail("genpsk", err)
		}

	case "pubkey":
		if err := cmd.RunPubKey(os.Stdin, os.Stdout); err != nil {
			fail("pubkey", err)
		}

	case "restore":
		fs := flag.NewFlagSet("restore", flag.ExitOnError)
		configFile := configFlag(fs)
		fs.Parse(os.Args[2:])
		if err := cmd.RunRestore(*configFile); err != nil {
			fail("Restore", err)
		}

	case "serve":
		fs := flag.NewFlagSet("serve", flag.ExitOnError)
		configFile := configFlag(fs)
		fs.Parse(os.Args[2:])
		if err := cmd.RunServe(*configFile); err != nil {
			fail("Serve", err)
		}

	case "tools":
		fs := flag.NewFlagSet("tools", flag.ExitOnError)
		configFile := configFlag(fs)
		fs.Parse(os.Args[2:])
		if err := cmd.RunTools(*configFile, fs.Args()); err != nil {
			fail("Tools", err)
		}

	case "config":
		fs := flag.NewFlagSet("config", flag.ExitOnError)
		configFile := configFlag(fs)
		fs.Parse(os.Args[2:])
		if err := cmd.RunConfig(*configFile); err != nil {
			fail("Config", err)
		}

	case "version":
		fs := flag.NewFlagSet("version", flag.ExitOnError)
		configFile := configFlag(fs)
		fs.Parse(os.Args[2:])
		if err := cmd.RunVersion(*configFile); err != nil {
			fail("Version", err)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf(`%s - %s

Usage: %s <command> [options]

Tunnels:
  up <tunnel>        Bring a tunnel up
  down <tunnel>      Bring a tunnel down
  toggle <tunnel>    Flip the state of a tunnel
  status             List tunnels and their state
  stats <tunnel>     Show per-peer traffic
  show <tunnel>      Print a tunnel configuration (-u for engine settings)
  restore            Bring back the tunnels that were running
  serve              Run in the foreground: restore, watch and export metrics

Configuration:
  check <file>       Validate a tunnel (.conf) or daemon (.hcl) configuration
  diff <tunnel> <f>  Compare a tunnel configuration with a file
  config             Print the effective daemon configuration

Keys:
  genkey             Generate a private key
  genpsk             Generate a preshared key
  pubkey             Derive a public key from a private key on stdin

Other:
  tools <cmd>        Manage wg and wg-quick (status, extract, install)
  version            Print version information

Most commands accept -c <file> to select the daemon configuration.
`, brand.Name, brand.Description, brand.BinaryName)
}
