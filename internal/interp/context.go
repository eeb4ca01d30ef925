// Package interp runs script files through an interpreter. The interpreter
// shares this process's standard streams, so whatever the script prints goes
// wherever stdout and stderr currently point.
package interp

import (
	"errors"
	"path/filepath"
	"sync"
)

var (
	// ErrNotFound is returned when a script file does not exist.
	ErrNotFound = errors.New("script not found")
	// ErrNotInitialized is returned when the execution context is not running.
	ErrNotInitialized = errors.New("interpreter not initialized")
	// ErrNotConfigured is returned by Initialize before Configure.
	ErrNotConfigured = errors.New("interpreter home not configured")
)

// LibDynload is the directory beneath the home holding native extension modules.
const LibDynload = "lib-dynload"

// Context is the single execution context of a process. It is created by its
// owner, configured with a home directory, initialized once and finalized once.
type Context struct {
	mu          sync.Mutex
	home        string
	initialized bool
}

func NewContext() *Context {
	return &Context{}
}

// Configure sets the interpreter home. The module search path becomes the home
// followed by its lib-dynload directory.
func (c *Context) Configure(home string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.home = home
}

// Initialize starts the context. Calling it again while initialized is a no-op.
func (c *Context) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.home == "" {
		return ErrNotConfigured
	}
	c.initialized = true
	return nil
}

func (c *Context) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Finalize tears the context down.
func (c *Context) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return ErrNotInitialized
	}
	c.initialized = false
	return nil
}

func (c *Context) Home() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.home
}

// SearchPath returns the module search path, or nil before Configure.
func (c *Context) SearchPath() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.home == "" {
		return nil
	}
	return []string{c.home, filepath.Join(c.home, LibDynload)}
}
