package capture

import "golang.org/x/sys/unix"

// dup2 is missing on some linux ports (arm64); dup3 with no flags is equivalent
// as long as oldfd != newfd.
func dupTo(oldfd, newfd int) error {
	if oldfd == newfd {
		return nil
	}
	return unix.Dup3(oldfd, newfd, 0)
}
