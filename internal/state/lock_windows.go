//go:build windows

package state

import (
	"fmt"
	"os"
	"time"
)

// acquireLock emulates an advisory lock with an exclusive-create lock
// file. Windows has no flock; create-or-wait is enough to serialize
// tether processes.
func acquireLock(path string) (func(), error) {
	deadline := time.Now().Add(30 * time.Second)
	for {
		f, err := os.OpenFile(path+".held", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			name := f.Name()
			_ = f.Close()
			return func() { _ = os.Remove(name) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for lock %s", path)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
