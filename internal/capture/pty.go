package capture

import (
	"fmt"
	"os"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// PTYRedirector redirects a descriptor into a pseudo-terminal. Programs that
// check isatty on the target then use line-buffered stdio on their own.
type PTYRedirector struct{}

var _ Redirector = PTYRedirector{}

func (PTYRedirector) Redirect(target int) (*Channel, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}

	readFd := int(ptmx.Fd())
	writeFd := int(tty.Fd())
	files := map[int]*os.File{readFd: ptmx, writeFd: tty}

	// Raw mode turns off echo and the "\n" to "\r\n" output translation, so the
	// bytes read back are the bytes written.
	if _, err := term.MakeRaw(writeFd); err != nil {
		_ = ptmx.Close()
		_ = tty.Close()
		return nil, fmt.Errorf("set pty raw: %w", err)
	}

	if err := unix.SetNonblock(readFd, true); err != nil {
		_ = ptmx.Close()
		_ = tty.Close()
		return nil, fmt.Errorf("set pty master non-blocking: %w", err)
	}

	ch, err := install(target, readFd, writeFd, files)
	if err != nil {
		_ = ptmx.Close()
		_ = tty.Close()
		return nil, err
	}
	return ch, nil
}
