package application

import (
	"fmt"
	"sync"

	"tools.zach/dev/appcore/aspect"
)

// ///////////////////////////////////////////////
// Context
// ///////////////////////////////////////////////

// Context owns the aspect registry an application shares with the library.
// It satisfies [aspect.Holder], so the generic accessors accept it directly:
//
//	gate, ok := aspect.Find[*application.WaitForTermination](cx)
//
// A Context must not be copied after first use.
type Context struct {
	aspect.Registry
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{}
}

// ///////////////////////////////////////////////
// Global Context
// ///////////////////////////////////////////////

// global is the process-wide context slot. create and destroy take the
// write lock; get takes the read lock.
var global struct {
	mu sync.RWMutex
	cx *Context
}

// CreateGlobal allocates the process-wide context. It fails with
// [ErrAlreadyExists] if one is present.
func CreateGlobal() (*Context, error) {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.cx != nil {
		return nil, ErrAlreadyExists
	}
	global.cx = NewContext()
	return global.cx, nil
}

// DestroyGlobal releases the process-wide context. It fails with
// [ErrNotFound] if none is present.
func DestroyGlobal() error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.cx == nil {
		return fmt.Errorf("%w: no global context to destroy", ErrNotFound)
	}
	global.cx = nil
	return nil
}

// Global returns the process-wide context, or [ErrNotFound] if it has not
// been created.
func Global() (*Context, error) {
	global.mu.RLock()
	defer global.mu.RUnlock()
	if global.cx == nil {
		return nil, fmt.Errorf("%w: there is no global context", ErrNotFound)
	}
	return global.cx, nil
}

// MustCreateGlobal is like [CreateGlobal] but panics on error.
func MustCreateGlobal() *Context {
	cx, err := CreateGlobal()
	if err != nil {
		panic(err)
	}
	return cx
}

// MustDestroyGlobal is like [DestroyGlobal] but panics on error.
func MustDestroyGlobal() {
	if err := DestroyGlobal(); err != nil {
		panic(err)
	}
}

// MustGlobal is like [Global] but panics on error.
func MustGlobal() *Context {
	cx, err := Global()
	if err != nil {
		panic(err)
	}
	return cx
}
