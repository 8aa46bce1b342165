// Package scan enumerates input files below a root directory.
package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern selects the files Files returns, relative to the root.
const Pattern = "**/*.json"

// ErrRootNotFound is returned when the root does not exist or is not a
// directory.
var ErrRootNotFound = errors.New("scan: root not found")

// Files returns the absolute paths of all regular *.json files at any depth
// below root, sorted lexicographically. Names starting with a dot are
// skipped. A root without matches yields an empty slice.
func Files(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("scan: %s: %w", root, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return nil, fmt.Errorf("scan: %s: %w", root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, root)
	}

	files := []string{}
	err = doublestar.GlobWalk(os.DirFS(abs), Pattern, func(p string, d fs.DirEntry) error {
		if !d.Type().IsRegular() || strings.HasPrefix(path.Base(p), ".") {
			return nil
		}
		files = append(files, filepath.Join(abs, filepath.FromSlash(p)))
		return nil
	}, doublestar.WithFailOnIOErrors())
	if err != nil {
		return nil, fmt.Errorf("scan: walk %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}
