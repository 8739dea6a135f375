package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"grimm.is/wgtunnel/internal/wgconf"
)

func TestWriteDiff(t *testing.T) {
	from, err := wgconf.ParseString(fullTunnel)
	if err != nil {
		t.Fatal(err)
	}
	// Same content, different layout.
	same, err := wgconf.ParseString(strings.ReplaceAll(fullTunnel, " = ", "="))
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := writeDiff(&out, "wg0", "new.conf", from, same); err != nil {
		t.Errorf("expected no diff, got %v\n%s", err, out.String())
	}

	changed, err := wgconf.ParseString(strings.Replace(fullTunnel, "10.0.0.1/32", "10.0.0.2/32", 1))
	if err != nil {
		t.Fatal(err)
	}
	out.Reset()
	err = writeDiff(&out, "wg0", "new.conf", from, changed)
	if !errors.Is(err, ErrConfigDiffers) {
		t.Fatalf("expected ErrConfigDiffers, got %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "-Address = 10.0.0.1/32") || !strings.Contains(text, "+Address = 10.0.0.2/32") {
		t.Errorf("unexpected diff:\n%s", text)
	}
	if !strings.Contains(text, "--- wg0") || !strings.Contains(text, "+++ new.conf") {
		t.Errorf("diff headers missing:\n%s", text)
	}
}
