package outputlog

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Follower reads a log file that is still being written. At end of file it
// waits for the next write instead of returning io.EOF, so a Reader on top
// of it keeps delivering records as they are appended.
type Follower struct {
	ctx     context.Context
	f       *os.File
	watcher *fsnotify.Watcher
}

// NewFollower watches f's path for writes. The caller owns f. Cancelling ctx
// makes the next blocked Read return io.EOF.
func NewFollower(ctx context.Context, f *os.File) (*Follower, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(f.Name()); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", f.Name(), err)
	}
	return &Follower{ctx: ctx, f: f, watcher: watcher}, nil
}

func (fo *Follower) Read(p []byte) (int, error) {
	for {
		n, err := fo.f.Read(p)
		if n > 0 || err != io.EOF {
			return n, err
		}
		if err := fo.wait(); err != nil {
			return 0, err
		}
	}
}

func (fo *Follower) wait() error {
	for {
		select {
		case <-fo.ctx.Done():
			return io.EOF
		case ev, ok := <-fo.watcher.Events:
			if !ok {
				return io.EOF
			}
			if ev.Has(fsnotify.Write) {
				return nil
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				return io.EOF
			}
		case err, ok := <-fo.watcher.Errors:
			if !ok {
				return io.EOF
			}
			return fmt.Errorf("watching %s: %w", fo.f.Name(), err)
		}
	}
}

func (fo *Follower) Close() error {
	return fo.watcher.Close()
}
