// Package discovery finds local processes by executable name.
package discovery

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultRoot is the process table scanned by Discover.
const DefaultRoot = "/proc"

// maxLinkLen mirrors PATH_MAX; longer exe links are ignored.
const maxLinkLen = 4096

// Scanner walks a /proc-like tree.
type Scanner struct {
	Root string
}

// Discover scans the host process table. See Scanner.Discover.
func Discover(pattern string, visit func(pid int)) {
	Scanner{Root: DefaultRoot}.Discover(pattern, visit)
}

// Discover calls visit once for every process whose executable path has a
// segment equal to pattern. Entries that cannot be resolved are skipped, so
// the result may be partial but the scan never fails as a whole.
func (s Scanner) Discover(pattern string, visit func(pid int)) {
	if pattern == "" || visit == nil {
		return
	}
	root := s.Root
	if root == "" {
		root = DefaultRoot
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, ent := range entries {
		pid, ok := parsePID(ent.Name())
		if !ok {
			continue
		}
		target, err := os.Readlink(filepath.Join(root, ent.Name(), "exe"))
		if err != nil || len(target) >= maxLinkLen {
			continue
		}
		if hasSegment(target, pattern) {
			visit(pid)
		}
	}
}

func parsePID(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return 0, false
		}
	}
	pid, err := strconv.Atoi(name)
	if err != nil {
		return 0, false
	}
	return pid, true
}

func hasSegment(path, pattern string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg != "" && seg == pattern {
			return true
		}
	}
	return false
}
