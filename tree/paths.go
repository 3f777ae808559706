package tree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nicolagi/fstree/internal/pathutil"
	"github.com/nicolagi/fstree/internal/posixerr"
	"golang.org/x/text/encoding"
)

// normalizeRel normalizes a path relative to some tree's root.
func normalizeRel(p string) (string, error) {
	return pathutil.Normalize(p)
}

// normalizeRoot validates and cleans an absolute filesystem root for a
// SourceTree or WritableTree: it must be an absolute, existing directory.
func normalizeRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("root: %w", posixerr.ErrInvalid)
	}
	if !filepath.IsAbs(root) {
		return "", fmt.Errorf("%s: root must be absolute: %w", root, posixerr.ErrInvalid)
	}
	cleaned := filepath.Clean(root)
	info, err := os.Stat(cleaned)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", posixerr.Path(posixerr.ErrNotDir, cleaned)
	}
	return cleaned, nil
}

// diskRoot reports the absolute filesystem directory backing t, if any.
// SourceTree and WritableTree have one directly; a Projection has one if
// its parent does, offset by its cwd; a delegating WritableTree reports
// its delegate's. Anything else (ManualTree, merge.Tree) has none.
func diskRoot(t Tree) (string, bool) {
	switch v := t.(type) {
	case *SourceTree:
		return v.root, true
	case *WritableTree:
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.mode == modeDelegating {
			return diskRoot(v.delegate)
		}
		return v.root, true
	case *Projection:
		v.mu.Lock()
		parent, cwd := v.parent, v.cwd
		v.mu.Unlock()
		root, ok := diskRoot(parent)
		if !ok {
			return "", false
		}
		return filepath.Join(root, filepath.FromSlash(cwd)), true
	default:
		return "", false
	}
}

// decode transcodes raw bytes read off disk through enc, or returns them
// unchanged if enc is nil (the common case: most files in a build tree
// are read as opaque bytes, not a specific legacy encoding).
func decode(raw []byte, enc encoding.Encoding) ([]byte, error) {
	if enc == nil {
		return raw, nil
	}
	return enc.NewDecoder().Bytes(raw)
}

// splitSegments splits a normalized relative path into its segments, or
// returns nil for the root.
func splitSegments(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
