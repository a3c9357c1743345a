//go:build !unix

package filestore

import "context"

// Without flock the lock only covers this process.
var processLock = make(chan struct{}, 1)

func lockFile(ctx context.Context, _ string) (func(), error) {
	select {
	case processLock <- struct{}{}:
		return func() { <-processLock }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
