package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

const (
	testPriv = "yAnz5TF+lXXJte14tji3zlMNq+hd2rYUIgJBgB3fBmk="
	testPeer = "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg="
)

const fullTunnel = `[Interface]
PrivateKey = ` + testPriv + `
Address = 10.0.0.1/32

[Peer]
PublicKey = ` + testPeer + `
AllowedIPs = 0.0.0.0/0
Endpoint = 192.0.2.1:51820
`

func TestRunCheck_ValidTunnel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wg0.conf")
	if err := os.WriteFile(path, []byte(fullTunnel), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if err := RunCheck(path, false); err != nil {
		t.Errorf("RunCheck() error = %v", err)
	}
}

func TestRunCheck_InvalidTunnel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wg0.conf")
	if err := os.WriteFile(path, []byte("[Interface]\nPrivateKey = nope\n"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	err := RunCheck(path, false)
	if err == nil {
		t.Fatal("RunCheck() expected error for invalid key")
	}
	if !strings.Contains(err.Error(), "interface section") {
		t.Errorf("expected the section in the error, got %v", err)
	}
}

func TestRunCheck_DaemonConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.hcl")
	bad := filepath.Join(dir, "bad.hcl")
	os.WriteFile(good, []byte(`backend = "wg-quick"`), 0600)
	os.WriteFile(bad, []byte(`backend = "kernel"`), 0600)

	if err := RunCheck(good, false); err != nil {
		t.Errorf("RunCheck(good) error = %v", err)
	}
	if err := RunCheck(bad, false); err == nil {
		t.Error("RunCheck(bad) expected error")
	}
}

func TestRunCheck_NoFile(t *testing.T) {
	if err := RunCheck("", false); err == nil {
		t.Error("expected usage error")
	}
}

func TestCheckTunnel_Summary(t *testing.T) {
	var out bytes.Buffer
	if err := checkTunnel(strings.NewReader(fullTunnel), &out, true); err != nil {
		t.Fatalf("checkTunnel() error = %v", err)
	}
	text := out.String()
	for _, want := range []string{
		"Configuration valid!",
		"Peers:      1",
		"Kill switch: blocks IPv6 outside the tunnel",
		"AllowedIPs = 0.0.0.0/0",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestFamilyNames(t *testing.T) {
	got := familyNames([]int{unix.AF_INET, unix.AF_INET6})
	if got != "IPv4 and IPv6" {
		t.Errorf("familyNames() = %q", got)
	}
}
