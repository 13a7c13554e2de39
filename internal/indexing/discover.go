package indexing

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPatterns select caption files by extension anywhere below the root.
var DefaultPatterns = []string{"**/*.vtt", "**/*.webvtt"}

// Discover walks fsys with an explicit stack and returns the slash-separated
// paths of regular files matching any pattern, sorted. Matching is
// case-insensitive on the file path.
func Discover(fsys fs.FS, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}

	var found []string
	stack := []string{"."}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := fs.ReadDir(fsys, dir)
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", dir, err)
		}
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			rel := path.Join(dir, name)
			if e.IsDir() {
				stack = append(stack, rel)
				continue
			}
			if !e.Type().IsRegular() {
				continue
			}
			if matchAny(patterns, strings.ToLower(rel)) {
				found = append(found, rel)
			}
		}
	}

	sort.Strings(found)
	return found, nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
