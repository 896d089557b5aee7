package common

import "errors"

// ModuleExchange names the exchange in pause configuration.
const ModuleExchange = "exchange"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether an operator has halted a module.
type PauseView interface {
	IsPaused(module string) bool
}

// Pauses is a static PauseView populated from configuration.
type Pauses map[string]bool

// IsPaused implements PauseView.
func (p Pauses) IsPaused(module string) bool { return p[module] }

// NewPauses builds a PauseView from the module names listed in configuration.
func NewPauses(modules []string) Pauses {
	p := make(Pauses, len(modules))
	for _, m := range modules {
		if m != "" {
			p[m] = true
		}
	}
	return p
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
