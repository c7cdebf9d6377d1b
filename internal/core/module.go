package core

// ModuleID is a dotted module identifier such as "memory.sqlite".
// The part before the first dot is the namespace.
type ModuleID string

// Namespace returns the namespace part of the ID ("memory" for "memory.sqlite").
func (id ModuleID) Namespace() string {
	for i := 0; i < len(id); i++ {
		if id[i] == '.' {
			return string(id[:i])
		}
	}
	return string(id)
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	// ID uniquely identifies the module.
	ID ModuleID

	// New returns a fresh, unconfigured instance.
	New func() Module
}

// Module is implemented by every pluggable component.
type Module interface {
	ModuleInfo() ModuleInfo
}
