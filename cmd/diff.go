package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/wgtunnel/internal/wgconf"
)

// ErrConfigDiffers is returned by RunDiff when the files differ.
var ErrConfigDiffers = errors.New("configuration differs")

// RunDiff compares the stored configuration of a tunnel with a candidate
// file. Both sides are normalized through the parser so that formatting and
// attribute order do not show up.
func RunDiff(configFile, name, candidate string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	app, err := NewApp(context.Background(), cfg, AppOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	stored, err := app.Manager.Config(name)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(candidate)
	if err != nil {
		return err
	}
	next, err := wgconf.ParseString(string(data))
	if err != nil {
		return fmt.Errorf("%s: %w", candidate, err)
	}
	return writeDiff(os.Stdout, name, candidate, stored, next)
}

func writeDiff(w io.Writer, fromName, toName string, from, to *wgconf.Config) error {
	if from.Equal(to) {
		Printer.Fprintf(w, "No changes detected.\n")
		return nil
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(from.WgQuickString()),
		B:        difflib.SplitLines(to.WgQuickString()),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return err
	}
	io.WriteString(w, text)
	return ErrConfigDiffers
}
