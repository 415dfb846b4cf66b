package runner

import (
	"bytes"
	"context"
	"os"

	"github.com/dimiro1/banner"
)

// State is the runner's coarse lifecycle position.
type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

// Runner hosts a check-in engine process end to end.
type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Hooks let the host observe the run boundaries, typically to kick off the
// conversation loop and log shutdown.
type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer flushes whatever the engine still holds: queued metrics, open
// transcript artifacts, an active session to cancel.
type Drainer interface {
	Drain() error
}

const EngineVersion = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"VELORA\" \"\" 0 }}\nCheck-in engine " + EngineVersion + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
