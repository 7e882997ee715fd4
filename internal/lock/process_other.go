//go:build !unix

package lock

func processAlive(pid int) bool {
	return pid > 0
}
