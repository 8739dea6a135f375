package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"grimm.is/wgtunnel/internal/backend"
	"grimm.is/wgtunnel/internal/brand"
	"grimm.is/wgtunnel/internal/config"
	"grimm.is/wgtunnel/internal/wgconf"
)

// RunCheck validates a tunnel configuration, or the daemon configuration
// when the file ends in .hcl.
func RunCheck(path string, verbose bool) error {
	if path == "" {
		return fmt.Errorf("usage: %s check [-v] <file>\nExample: %s check /etc/wireguard/wg0.conf", brand.BinaryName, brand.BinaryName)
	}
	if strings.HasSuffix(path, ".hcl") {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}
		Printer.Printf("Configuration valid!\n")
		if verbose {
			os.Stdout.Write(config.Encode(cfg))
		}
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := checkTunnel(f, os.Stdout, verbose); err != nil {
		return err
	}

	name := strings.TrimSuffix(filepath.Base(path), ".conf")
	if err := backend.ValidateName(name); err != nil {
		Printer.Printf("Warning: %s cannot be used as a tunnel name: %v\n", name, err)
	}
	return nil
}

// checkTunnel parses r and writes a summary to w.
func checkTunnel(r io.Reader, w io.Writer, verbose bool) error {
	tc, err := wgconf.Parse(r)
	if err != nil {
		var pe *wgconf.ParseError
		if errors.As(err, &pe) {
			return fmt.Errorf("configuration invalid in %s section: %w", strings.ToLower(string(pe.Section)), err)
		}
		return fmt.Errorf("configuration invalid: %w", err)
	}

	iface := tc.Interface()
	Printer.Fprintf(w, "Configuration valid!\n")
	Printer.Fprintf(w, "Public key: %s\n", iface.KeyPair().PublicKey().Base64())
	Printer.Fprintf(w, "Addresses:  %d\n", len(iface.Addresses()))
	Printer.Fprintf(w, "Peers:      %d\n", len(tc.Peers()))

	session := backend.BuildSession("check", tc)
	if blocked := session.BlockedFamilies(); len(blocked) > 0 {
		Printer.Fprintf(w, "Kill switch: blocks %s outside the tunnel\n", familyNames(blocked))
	}
	if verbose {
		Printer.Fprintf(w, "\n")
		io.WriteString(w, tc.WgQuickString())
	}
	return nil
}

func familyNames(families []int) string {
	names := make([]string, len(families))
	for i, f := range families {
		switch f {
		case unix.AF_INET:
			names[i] = "IPv4"
		case unix.AF_INET6:
			names[i] = "IPv6"
		default:
			names[i] = fmt.Sprintf("family %d", f)
		}
	}
	return strings.Join(names, " and ")
}
