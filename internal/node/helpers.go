package node

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// listenAddr joins a configured host and port.
func listenAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ResumeBlock picks the block the worker starts scanning from.
//
// With force set, or with no recorded trade, scanning starts at genesis.
// Otherwise it restarts one block before the latest recorded trade so a
// partially recorded block is scanned again. The result never drops
// below genesis: a latest trade at or below genesis resumes at genesis,
// not one block earlier.
func ResumeBlock(latest uint64, found bool, genesis uint64, force bool) uint64 {
	if force || !found || latest <= genesis {
		return genesis
	}
	return latest - 1
}
