package aspects

import (
	"os"
	"strconv"
)

// ProcessID holds the id of the current process, captured at construction.
type ProcessID struct {
	pid int
}

// NewProcessID captures the current process id.
func NewProcessID() *ProcessID {
	return &ProcessID{pid: os.Getpid()}
}

// PID returns the captured process id.
func (p *ProcessID) PID() int { return p.pid }

func (p *ProcessID) String() string { return strconv.Itoa(p.pid) }
