// Package aspects provides the collaborator aspects an application can place
// in its context: the argument vector, well-known paths, the process id and
// single-instance enforcement. Each one is a thin wrapper over the OS and is
// consumed through the registry like any other aspect:
//
//	aspect.Insert(cx, aspects.NewArgs(os.Args))
//	args, _ := aspect.Find[*aspects.Args](cx)
package aspects

import "slices"

// ///////////////////////////////////////////////
// Args
// ///////////////////////////////////////////////

// Args holds a copy of the argument vector the process was started with.
type Args struct {
	argv []string
}

// NewArgs copies argv.
func NewArgs(argv []string) *Args {
	return &Args{argv: slices.Clone(argv)}
}

// Argv returns a copy of the full argument vector, program name included.
func (a *Args) Argv() []string {
	return slices.Clone(a.argv)
}

// Len returns the number of arguments, program name included.
func (a *Args) Len() int {
	return len(a.argv)
}

// At returns argument i, or "" when i is out of range.
func (a *Args) At(i int) string {
	if i < 0 || i >= len(a.argv) {
		return ""
	}
	return a.argv[i]
}

// Program returns argv[0].
func (a *Args) Program() string {
	return a.At(0)
}

// Rest returns the arguments after the program name.
func (a *Args) Rest() []string {
	if len(a.argv) < 2 {
		return nil
	}
	return slices.Clone(a.argv[1:])
}
