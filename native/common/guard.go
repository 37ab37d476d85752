package common

import "errors"

var ErrSystemHalted = errors.New("system halted")

// HaltView exposes the global emergency-stop flag.
type HaltView interface {
	Halted() bool
}

// Guard rejects balance-mutating work while the system is halted. A nil view
// never blocks.
func Guard(h HaltView) error {
	if h == nil {
		return nil
	}
	if h.Halted() {
		return ErrSystemHalted
	}
	return nil
}
