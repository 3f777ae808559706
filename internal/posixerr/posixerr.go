// Package posixerr defines the sentinel errors this module's write and
// read paths fail with, and a helper to render them with the POSIX-style
// prefix callers of the original internal/tree generation relied on
// (linuxerr.ENOENT and friends), so that errors.Is keeps working no matter
// how the message is phrased.
package posixerr

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrNotExist means ENOENT: no entry at the given path.
	ErrNotExist = errors.New("no such file or directory")
	// ErrExist means EEXIST: an entry already occupies the given path.
	ErrExist = errors.New("file exists")
	// ErrNotDir means ENOTDIR: a path component expected to be a directory is not one.
	ErrNotDir = errors.New("not a directory")
	// ErrIsDir means EISDIR: an operation that requires a file found a directory.
	ErrIsDir = errors.New("is a directory")
	// ErrNotEmpty means ENOTEMPTY: rmdir found a non-empty directory.
	ErrNotEmpty = errors.New("directory not empty")
	// ErrPermission means EPERM: the operation is not permitted on this kind of entry.
	ErrPermission = errors.New("operation not permitted")
	// ErrInvalid means EINVAL: malformed input, e.g. a path escaping the tree root.
	ErrInvalid = errors.New("invalid argument")

	// ErrStopped marks a write attempted on a WritableTree that is not started.
	ErrStopped = errors.New("tree is stopped")
	// ErrRootNotAllowed marks an operation that refuses to target a tree's own root.
	ErrRootNotAllowed = errors.New("operation not allowed on tree root")
	// ErrIncompatibleFilters marks a Projection configured with both an
	// explicit files list and include/exclude matchers.
	ErrIncompatibleFilters = errors.New("files filter is incompatible with include/exclude filters")
	// ErrConflictingCapitalization marks two merge inputs disagreeing on the
	// capitalization of the same case-folded name.
	ErrConflictingCapitalization = errors.New("conflicting capitalization across merge inputs")
	// ErrConflictingFileType marks two merge inputs disagreeing on whether a
	// name is a file or a directory.
	ErrConflictingFileType = errors.New("conflicting file type across merge inputs")
	// ErrOverwriteRefused marks a file present in more than one merge input
	// while overwrite is disabled.
	ErrOverwriteRefused = errors.New("overwrite refused")
	// ErrUnknownOperation marks an Apply delegate missing a handler for a
	// change's operation.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrSymlinkCross marks a write whose path would have to pass through
	// an internal directory symlink to reach its target. WritableTree's
	// mutators write directly against their own disk root; an internal
	// symlink is a purely in-memory graft with nothing mirrored on disk
	// for them to write into.
	ErrSymlinkCross = errors.New("write would cross an internal symlink")
)

var prefixes = map[error]string{
	ErrNotExist:   "ENOENT",
	ErrExist:      "EEXIST",
	ErrNotDir:     "ENOTDIR",
	ErrIsDir:      "EISDIR",
	ErrNotEmpty:   "ENOTEMPTY",
	ErrPermission: "EPERM",
	ErrInvalid:    "EINVAL",
}

// Path wraps a sentinel error with the offending path, producing
// "ENOENT: path: no such file or directory" for the sentinels that have a
// POSIX errno prefix, and "path: reason" for the ones that don't (those
// are this module's own vocabulary, not POSIX errno values, so they don't
// get a fake prefix). Wrapping goes through pkg/errors.Wrapf, the
// teacher's own choice for attaching context to a sentinel while keeping
// it errors.Is-comparable, rather than fmt.Errorf's %w.
func Path(err error, path string) error {
	if prefix, ok := prefixes[err]; ok {
		return pkgerrors.Wrapf(err, "%s: %s", prefix, path)
	}
	return pkgerrors.Wrapf(err, "%s", path)
}
