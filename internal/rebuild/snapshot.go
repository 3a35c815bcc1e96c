package rebuild

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// SourceFile is one file of the project as the build system currently
// sees it
type SourceFile struct {
	Path    string
	Content []byte
}

// Snapshot returns the current project state, the input of a full rebuild
type Snapshot func(ctx context.Context) ([]SourceFile, error)

// Files returns a fixed snapshot
func Files(files ...SourceFile) Snapshot {
	return func(context.Context) ([]SourceFile, error) {
		return files, nil
	}
}

// ByExtension keeps files with one of the given extensions under their own
// path
func ByExtension(exts ...string) func(rel string) (string, bool) {
	return func(rel string) (string, bool) {
		for _, ext := range exts {
			if strings.HasSuffix(rel, ext) {
				return rel, true
			}
		}
		return "", false
	}
}

// Excluding wraps keep so that paths matching any doublestar pattern
// (e.g. "vendor/**") are rejected
func Excluding(patterns []string, keep func(rel string) (string, bool)) func(rel string) (string, bool) {
	if len(patterns) == 0 {
		return keep
	}
	return func(rel string) (string, bool) {
		for _, pattern := range patterns {
			if matched, _ := doublestar.Match(pattern, rel); matched {
				return "", false
			}
		}
		return keep(rel)
	}
}

// SnapshotDir walks root and reads every file keep accepts. keep receives
// the slash-separated path relative to root and returns the path the file
// is indexed under. Hidden directories are skipped, which keeps the
// default index directory out of the snapshot.
func SnapshotDir(root string, keep func(rel string) (string, bool)) Snapshot {
	return func(ctx context.Context) ([]SourceFile, error) {
		var files []SourceFile
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			indexed, ok := keep(filepath.ToSlash(rel))
			if !ok {
				return nil
			}

			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			files = append(files, SourceFile{Path: indexed, Content: content})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", root, err)
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
		return files, nil
	}
}
