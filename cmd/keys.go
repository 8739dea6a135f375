package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"grimm.is/wgtunnel/internal/wgconf"
)

// RunGenKey prints a new private key.
func RunGenKey(w io.Writer) error {
	k, err := wgconf.GeneratePrivateKey()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, k.Base64())
	return nil
}

// RunGenPSK prints a new preshared key.
func RunGenPSK(w io.Writer) error {
	k, err := wgconf.GeneratePresharedKey()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, k.Base64())
	return nil
}

// RunPubKey reads a private key from r and prints its public key.
func RunPubKey(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return err
	}
	k, err := wgconf.ParseKeyBase64(strings.TrimSpace(line))
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}
	fmt.Fprintln(w, k.PublicKey().Base64())
	return nil
}
