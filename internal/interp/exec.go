package interp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Handle refers to a loaded script.
type Handle int

// Interpreter loads script files and calls functions defined in them.
type Interpreter interface {
	LoadScript(path string) (Handle, error)
	CallFunction(ctx context.Context, h Handle, name string) (int, error)
	Unload(h Handle)
}

// callProgram loads argv[1] as a module and exits with the integer returned by
// the function named argv[2]. Non-integer results count as success.
const callProgram = `import runpy, sys
ns = runpy.run_path(sys.argv[1], run_name="__scripthost__")
fn = ns.get(sys.argv[2])
if not callable(fn):
    sys.stderr.write("function %s not found in %s\n" % (sys.argv[2], sys.argv[1]))
    sys.exit(1)
result = fn()
sys.exit(result if isinstance(result, int) else 0)
`

// ExecInterpreter runs each function call in a child interpreter process.
type ExecInterpreter struct {
	ctx    *Context
	binary string

	// Unbuffered asks the child not to buffer its output, so lines reach the
	// captured streams as soon as they are printed.
	Unbuffered bool
	// Stdout and Stderr default to this process's streams.
	Stdout io.Writer
	Stderr io.Writer

	mu      sync.Mutex
	next    Handle
	scripts map[Handle]string
}

var _ Interpreter = &ExecInterpreter{}

// NewExecInterpreter returns an interpreter using binary, for example python3.
func NewExecInterpreter(ctx *Context, binary string) *ExecInterpreter {
	return &ExecInterpreter{
		ctx:     ctx,
		binary:  binary,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		scripts: make(map[Handle]string),
	}
}

func (e *ExecInterpreter) LoadScript(path string) (Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to stat script: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory: %w", path, ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.scripts[e.next] = path
	return e.next, nil
}

// CallFunction runs the named function and returns its result code. A child
// killed by a signal yields -1.
func (e *ExecInterpreter) CallFunction(ctx context.Context, h Handle, name string) (int, error) {
	if !e.ctx.IsInitialized() {
		return 0, ErrNotInitialized
	}

	e.mu.Lock()
	path, ok := e.scripts[h]
	e.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("handle %d: %w", h, ErrNotFound)
	}

	cmd := exec.CommandContext(ctx, e.binary, "-c", callProgram, path, name)
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	cmd.Env = e.environ()

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 0, fmt.Errorf("failed to run %s: %w", e.binary, err)
	}
	return 0, nil
}

func (e *ExecInterpreter) Unload(h Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.scripts, h)
}

func (e *ExecInterpreter) environ() []string {
	env := os.Environ()
	path := e.ctx.SearchPath()
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		path = append(path, existing)
	}
	env = append(env, "PYTHONPATH="+strings.Join(path, string(os.PathListSeparator)))
	if e.Unbuffered {
		env = append(env, "PYTHONUNBUFFERED=1")
	}
	return env
}
