package tree

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nicolagi/fstree/config"
	"github.com/nicolagi/fstree/internal/posixerr"
)

// symlinkOrCopy creates an OS symlink from dest to target, or — when cfg
// says the filesystem can't support one — materializes the same content
// by copying, the fallback spec.md §6's CanSymlink flag exists for.
func symlinkOrCopy(cfg *config.Config, target, dest string) error {
	if cfg == nil || cfg.CanSymlink {
		return os.Symlink(target, dest)
	}
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyDir(target, dest)
	}
	return copyFile(target, dest, info.Mode())
}

func copyDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		st, err := os.Stat(srcPath)
		if err != nil {
			return err
		}
		if st.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath, st.Mode()); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// SymlinkToFacade grafts targetTree (scoped to targetPath) into this tree
// at localPath. localPath == "" is the root-symlink special case: this
// tree's own root directory is removed from disk and replaced by a
// symlink (or copy) to the target, and the tree transitions into
// Delegator mode, where every read forwards to the delegate until
// UndoRootSymlink runs.
//
// A non-root localPath instead inserts an InternalLink entry: a
// directory target grafts the whole linked tree at that path; a file
// target grafts just that one file, read through Link.Tree/Link.Target
// rather than the OS.
func (t *WritableTree) SymlinkToFacade(targetTree Tree, targetPath, localPath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	localPath, err := normalizeRel(localPath)
	if err != nil {
		return err
	}
	if err := t.checkStarted(); err != nil {
		return err
	}

	if localPath == "" {
		if len(t.entries) != 0 {
			return posixerr.Path(posixerr.ErrNotEmpty, t.root)
		}
		delegate, err := targetTree.Chdir(targetPath)
		if err != nil {
			return err
		}
		root, ok := diskRoot(delegate)
		if !ok {
			return fmt.Errorf("symlink_to_facade: target tree has no disk-backed root to link to: %w", posixerr.ErrInvalid)
		}
		if err := os.RemoveAll(t.root); err != nil {
			return err
		}
		if err := symlinkOrCopy(t.cfg, root, t.root); err != nil {
			_ = os.Mkdir(t.root, 0777)
			return err
		}
		t.mode = modeDelegating
		t.delegate = delegate
		t.logMutation("symlink_to_facade(root)", localPath)
		return nil
	}

	if err := t.requireParentDir(localPath); err != nil {
		return err
	}
	if _, ok := t.find(localPath); ok {
		return posixerr.Path(posixerr.ErrExist, localPath)
	}
	targetEntry, err := targetTree.Stat(targetPath)
	if err != nil {
		return posixerr.Path(posixerr.ErrNotExist, targetPath)
	}
	var e Entry
	if targetEntry.Kind == Directory {
		sub, err := targetTree.Chdir(targetPath)
		if err != nil {
			return err
		}
		e = Entry{Path: localPath, Kind: Directory, Mode: os.ModeDir | 0777, ModTime: time.Now(), HasStat: true,
			Link: Link{Kind: InternalLink, Tree: sub}}
	} else {
		e = Entry{Path: localPath, Kind: File, Mode: targetEntry.Mode, Size: targetEntry.Size, ModTime: targetEntry.ModTime, HasStat: true,
			Link: Link{Kind: InternalLink, Tree: targetTree, Target: targetPath}}
	}
	t.insert(e)
	if e.Kind == Directory {
		t.track(OpMkdir, localPath, e)
	} else {
		t.track(OpCreate, localPath, e)
	}
	t.logMutation("symlink_to_facade", localPath)
	return nil
}

// UndoRootSymlink reverses a root-level SymlinkToFacade: the root
// directory is recreated empty on disk, the tree leaves Delegator mode,
// and the net effect of everything that happened while delegating is
// re-integrated into this tree's own change tracker via the same
// collapsing rules ordinary mutations use. Concretely this is
// delegate.Changes() (whatever the delegate itself tracked while
// grafted) unioned with the full teardown diff(delegate.Entries() → ∅),
// tracked in that order so anything created-then-removed during the
// graft collapses to nothing rather than surfacing as a dangling change.
func (t *WritableTree) UndoRootSymlink() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mode != modeDelegating {
		return fmt.Errorf("undo_root_symlink: %w", posixerr.ErrInvalid)
	}
	delegateEntries, err := t.delegate.Entries()
	if err != nil {
		return err
	}
	delegateChanges, err := t.delegate.Changes()
	if err != nil {
		return err
	}
	teardown := Diff(delegateEntries, nil, DefaultEquals)

	if err := os.RemoveAll(t.root); err != nil {
		return err
	}
	if err := os.Mkdir(t.root, 0777); err != nil {
		return err
	}

	t.mode = modeWritable
	t.delegate = nil
	t.entries = nil
	for _, c := range delegateChanges {
		t.track(c.Op, c.Path, c.Entry)
	}
	for _, c := range teardown {
		t.track(c.Op, c.Path, c.Entry)
	}
	t.logMutation("undo_root_symlink", "")
	return nil
}
