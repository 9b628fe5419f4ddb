package target

// registry is the explicit-registration table spec §9 calls for in place
// of gas's compiled-in md_*/tc_* macro set: every concrete target package
// registers itself here from an init(), and cmd/asm's -m/--cpu flag looks
// the name up at startup rather than the binary being built for exactly
// one target.
var registry = map[string]func() Ops{}

// Register adds a target constructor under name. Called from a target
// package's init(), never directly by this package (which has no
// knowledge of any concrete target, including the reference demo one).
func Register(name string, ctor func() Ops) {
	registry[name] = ctor
}

// Lookup constructs a fresh Ops instance for name, if one was registered.
func Lookup(name string) (Ops, bool) {
	ctor, ok := registry[name]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// Names returns every registered target name, for a CLI's usage/error text.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}
