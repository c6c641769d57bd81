// Package displaydoc loads the optional FENRIR.md document shown to agents
// on the index endpoint.
package displaydoc

import (
	"os"
	"path/filepath"
	"strings"
)

// FileName is the document looked up by Loader.
const FileName = "FENRIR.md"

// Loader looks for FileName in Root, then its parent, then its grandparent.
// The project root is usually a level or two above the working directory of
// the served package.
type Loader struct {
	Root string
}

// Load returns the first FileName found. ok is false when none exists or it
// cannot be read.
func (l Loader) Load() (string, bool) {
	root := l.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	for _, dir := range []string{abs, filepath.Dir(abs), filepath.Dir(filepath.Dir(abs))} {
		// A directory named FENRIR.md or an unreadable file is skipped.
		if b, err := os.ReadFile(filepath.Join(dir, FileName)); err == nil {
			return string(b), true
		}
	}
	return "", false
}

// AppName returns the text of the first markdown heading in doc, or fallback
// when doc has none.
func AppName(doc, fallback string) string {
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return fallback
}
