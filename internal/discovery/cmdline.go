package discovery

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// CommandLine attempts to fetch the command line for the provided PID.
// Falls back to a synthetic placeholder if it cannot be determined.
func CommandLine(pid int) string {
	return Scanner{Root: DefaultRoot}.CommandLine(pid)
}

// CommandLine reads the command line of pid below the scanner root.
func (s Scanner) CommandLine(pid int) string {
	if pid <= 0 {
		return fmt.Sprintf("pid:%d", pid)
	}
	root := s.Root
	if root == "" {
		root = DefaultRoot
	}
	if cmd, err := readProcCmdline(root, pid); err == nil && cmd != "" {
		return cmd
	}
	if root == DefaultRoot {
		if cmd, err := readPsCommand(pid); err == nil && cmd != "" {
			return cmd
		}
	}
	return fmt.Sprintf("pid:%d", pid)
}

func readProcCmdline(root string, pid int) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return "", err
	}
	parts := bytes.Split(data, []byte{0})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		out = append(out, string(part))
	}
	return strings.Join(out, " "), nil
}

func readPsCommand(pid int) (string, error) {
	cmd := exec.Command("ps", "-o", "command=", "-p", strconv.Itoa(pid))
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
