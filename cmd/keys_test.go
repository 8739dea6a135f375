package cmd

import (
	"bytes"
	"strings"
	"testing"

	"grimm.is/wgtunnel/internal/wgconf"
)

func TestRunGenKeyAndPubKey(t *testing.T) {
	var priv bytes.Buffer
	if err := RunGenKey(&priv); err != nil {
		t.Fatalf("RunGenKey() error = %v", err)
	}
	key, err := wgconf.ParseKeyBase64(strings.TrimSpace(priv.String()))
	if err != nil {
		t.Fatalf("generated key does not parse: %v", err)
	}

	var pub bytes.Buffer
	if err := RunPubKey(&priv, &pub); err != nil {
		t.Fatalf("RunPubKey() error = %v", err)
	}
	if strings.TrimSpace(pub.String()) != key.PublicKey().Base64() {
		t.Errorf("public key mismatch: %s", pub.String())
	}
}

func TestRunPubKey_KnownVector(t *testing.T) {
	var pub bytes.Buffer
	if err := RunPubKey(strings.NewReader(testPriv), &pub); err != nil {
		t.Fatalf("RunPubKey() error = %v", err)
	}
	k, _ := wgconf.ParseKeyBase64(testPriv)
	if strings.TrimSpace(pub.String()) != k.PublicKey().Base64() {
		t.Errorf("unexpected public key %q", pub.String())
	}
}

func TestRunPubKey_Invalid(t *testing.T) {
	var pub bytes.Buffer
	if err := RunPubKey(strings.NewReader("not a key\n"), &pub); err == nil {
		t.Error("expected error for invalid key")
	}
}

func TestRunGenPSK(t *testing.T) {
	var out bytes.Buffer
	if err := RunGenPSK(&out); err != nil {
		t.Fatalf("RunGenPSK() error = %v", err)
	}
	if _, err := wgconf.ParseKeyBase64(strings.TrimSpace(out.String())); err != nil {
		t.Errorf("psk does not parse: %v", err)
	}
}
