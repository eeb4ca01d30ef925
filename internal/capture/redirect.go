package capture

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Redirector points a target descriptor at a fresh readable channel.
type Redirector interface {
	Redirect(target int) (*Channel, error)
}

// Channel is a redirected stream: everything written to the target
// descriptor can be read from ReadFd until Restore is called.
type Channel struct {
	target  int
	readFd  int
	writeFd int
	saved   int

	// files keeps descriptors owned by an *os.File reachable, so the
	// runtime finalizer does not close them under us. Keyed by descriptor:
	// File.Fd must not be called again, it would reset O_NONBLOCK.
	files map[int]*os.File

	restoreOnce sync.Once
	restoreErr  error
	closeOnce   sync.Once
	closeErr    error
}

// ReadFd returns the descriptor the reader loop reads from. It is non-blocking.
func (c *Channel) ReadFd() int {
	return c.readFd
}

// Target returns the descriptor that was redirected.
func (c *Channel) Target() int {
	return c.target
}

// Restore reinstalls the original target descriptor and closes the write end.
// Once every other copy of the write end is gone the reader sees end-of-file.
func (c *Channel) Restore() error {
	c.restoreOnce.Do(func() {
		var errs []error
		if err := dupTo(c.saved, c.target); err != nil {
			errs = append(errs, fmt.Errorf("restore fd %d: %w", c.target, err))
		}
		if err := unix.Close(c.saved); err != nil {
			errs = append(errs, fmt.Errorf("close saved fd: %w", err))
		}
		if err := c.closeFd(c.writeFd); err != nil {
			errs = append(errs, fmt.Errorf("close write end: %w", err))
		}
		c.restoreErr = errors.Join(errs...)
	})
	return c.restoreErr
}

// Close restores the target if needed and closes the read end.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		errs := []error{c.Restore()}
		if err := c.closeFd(c.readFd); err != nil {
			errs = append(errs, fmt.Errorf("close read end: %w", err))
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func (c *Channel) closeFd(fd int) error {
	if f, ok := c.files[fd]; ok {
		return f.Close()
	}
	return unix.Close(fd)
}

// install saves the current target and puts writeFd in its place.
func install(target, readFd, writeFd int, files map[int]*os.File) (*Channel, error) {
	saved, err := unix.Dup(target)
	if err != nil {
		return nil, fmt.Errorf("dup fd %d: %w", target, err)
	}
	unix.CloseOnExec(saved)

	if err := dupTo(writeFd, target); err != nil {
		_ = unix.Close(saved)
		return nil, fmt.Errorf("dup2 onto fd %d: %w", target, err)
	}

	return &Channel{
		target:  target,
		readFd:  readFd,
		writeFd: writeFd,
		saved:   saved,
		files:   files,
	}, nil
}

// PipeRedirector redirects a descriptor into an anonymous pipe.
type PipeRedirector struct{}

var _ Redirector = PipeRedirector{}

func (PipeRedirector) Redirect(target int) (*Channel, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	// Only the read end is non-blocking; writers keep normal semantics.
	if err := unix.SetNonblock(p[0], true); err != nil {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		return nil, fmt.Errorf("set read end non-blocking: %w", err)
	}

	ch, err := install(target, p[0], p[1], nil)
	if err != nil {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		return nil, err
	}
	return ch, nil
}
