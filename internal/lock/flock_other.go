//go:build !unix

package lock

import (
	"fmt"
	"os"
)

func tryLock(f *os.File) error {
	return fmt.Errorf("file locking is unsupported on this platform")
}

func unlock(f *os.File) error {
	return nil
}
