// Package facade implements the Coordinator Facade's dual-mode exposure:
// dashboard mode for scripted/CLI callers (single-line JSON on stdout,
// structured logs on stderr) and interactive mode for a human operator
// (table/line text output). It generalizes the reference repo's
// internal/cli package (mode.go, output.go) one level up, from wallet
// commands to the coordinator's query/command surface.
package facade

import (
	"os"
	"strings"
)

// Mode is the facade's operating mode.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeDashboard   Mode = "dashboard"
)

// DetectMode reads COORDINATOR_MODE (the coordinator's analogue of the
// reference repo's ARCSIGN_MODE), defaulting to interactive for any
// unset or unrecognized value.
func DetectMode() Mode {
	modeEnv := strings.ToLower(strings.TrimSpace(os.Getenv("COORDINATOR_MODE")))
	if modeEnv == "dashboard" {
		return ModeDashboard
	}
	return ModeInteractive
}

func IsInteractive() bool { return DetectMode() == ModeInteractive }
func IsDashboard() bool   { return DetectMode() == ModeDashboard }
