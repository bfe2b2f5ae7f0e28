package openflow

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/natefinch/atomic"
)

// Batch file groups
const (
	GroupTopology = "topology"
	GroupACL      = "acl"
	GroupFlood    = "flood"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// BatchFileName returns the scratch file name for one bulk load.
// Names are unique per (bridge, group, tag) so concurrent loads on
// different bridges never share a file.
func BatchFileName(bridge, group, tag string) string {
	name := fmt.Sprintf("%s-%s-%s.ofspec", bridge, group, tag)
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// FormatBatch renders rules one per line, in the order given
func FormatBatch(rules []FlowRule) string {
	var sb strings.Builder
	for _, r := range rules {
		sb.WriteString(r.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

// WriteBatch writes rules to dir/name and returns the file path.
// The file is replaced atomically, so the switch never reads a partial batch.
func WriteBatch(dir, name string, rules []FlowRule) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create batch directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := atomic.WriteFile(path, strings.NewReader(FormatBatch(rules))); err != nil {
		return "", fmt.Errorf("failed to write batch file %s: %w", path, err)
	}
	return path, nil
}
