// Package config carries the ambient settings the tree packages need:
// whether the host filesystem supports symlinks, size limits, and where
// to log. Unlike the teacher's config.C, which loads a daemon's full
// configuration file from disk (listen addresses, encryption key, S3
// credentials, mount points — see DESIGN.md for why none of that survives
// here), a tree layer embedded in a build pipeline takes its settings
// from the embedder's own process, not from a config file it parses
// itself.
package config

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Config is the ambient state threaded through SourceTree, WritableTree
// and merge.Tree construction.
type Config struct {
	// CanSymlink controls whether WritableTree.Symlink and the root case
	// of SymlinkToFacade create real OS symlinks or materialize the same
	// logical structure by copying, and whether merge.Tree marks a
	// directory present in a single input as symlinked through
	// (Entry.LinkDir). Defaults to
	// the result of probing the local filesystem (DetectSymlinkCapability),
	// but tests commonly override it to force the copy path on a platform
	// that does support symlinks.
	CanSymlink bool

	// MaxFileSize is a size limit carried for embedders. No tree
	// operation in this module reads it: WriteFile and ReadFile buffer
	// files of any size. Mirrors the spirit of the teacher's BlockSize,
	// without the block-store machinery it fed into.
	MaxFileSize int64

	logger *log.Logger
}

// Default returns a Config with CanSymlink probed from the local
// filesystem and a standard logrus logger.
func Default() *Config {
	return &Config{
		CanSymlink: DetectSymlinkCapability(),
		logger:     log.StandardLogger(),
	}
}

// Logger returns the configured logger, falling back to logrus's
// standard logger for a nil Config or a Config built as a zero value.
func (c *Config) Logger() *log.Logger {
	if c == nil || c.logger == nil {
		return log.StandardLogger()
	}
	return c.logger
}

// SetLogger overrides the logger used by trees constructed with c.
func (c *Config) SetLogger(l *log.Logger) {
	c.logger = l
}

// DetectSymlinkCapability probes a temporary directory for symlink
// support, the same strategy build tools use (broccoli.js, for one) to
// decide at startup whether to emit real symlinks or fall back to file
// copies — relevant on filesystems mounted without symlink support, and
// in restricted sandboxes that deny CAP_DAC_OVERRIDE-adjacent symlink
// creation.
func DetectSymlinkCapability() bool {
	dir, err := os.MkdirTemp("", "fstree-symlink-probe-*")
	if err != nil {
		return false
	}
	defer os.RemoveAll(dir)
	target := filepath.Join(dir, "target")
	if err := os.WriteFile(target, []byte("x"), 0600); err != nil {
		return false
	}
	link := filepath.Join(dir, "link")
	return os.Symlink(target, link) == nil
}
