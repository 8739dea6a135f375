// Package cmd implements the wgtunnel subcommands. Each RunX function is
// called from main after flag parsing.
package cmd

import (
	"grimm.is/wgtunnel/internal/i18n"
)

// Printer writes user-facing output with locale-aware number formatting.
var Printer = i18n.NewCLIPrinter()
