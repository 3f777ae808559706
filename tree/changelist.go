package tree

import "github.com/nicolagi/fstree/internal/debug"

// changeNode is one element of changeTracker's doubly-linked list, stored
// in a slice rather than built from raw pointers so node identity is a
// stable integer index usable as a map value.
type changeNode struct {
	prev, next int
	change     Change
}

// collapseAction tells track() what to do once it finds an existing node
// at the incoming change's path.
type collapseAction uint8

const (
	collapseReplace collapseAction = iota
	collapseDrop
)

// collapse implements the algebra by which a new operation at a path
// already carrying a pending change combines with it, per spec.md's
// collapsing table. The result, when collapseReplace, carries resultOp;
// the caller supplies whichever Entry (prior or new) is appropriate —
// here always the newly observed one, since every rule that keeps a
// change keeps the most recent entry data.
func collapse(prior, incoming Op) (collapseAction, Op) {
	switch {
	case prior == OpUnlink && incoming == OpCreate:
		return collapseReplace, OpChange
	case prior == OpChange && incoming == OpChange:
		return collapseReplace, OpChange
	case prior == OpCreate && incoming == OpChange:
		return collapseReplace, OpCreate
	case prior == OpRmdir && incoming == OpMkdir:
		return collapseDrop, 0
	case prior == OpMkdir && incoming == OpRmdir:
		return collapseDrop, 0
	case prior == OpChange && incoming == OpUnlink:
		return collapseReplace, OpUnlink
	case prior == OpCreate && incoming == OpUnlink:
		return collapseDrop, 0
	default:
		// No rule matches: the new operation simply supersedes the old one.
		// Precondition checks in WritableTree's mutators should make this
		// case unreachable in practice (e.g. two Mkdirs at the same path
		// without an intervening Rmdir never get this far).
		return collapseReplace, incoming
	}
}

// changeTracker is a doubly-linked list of pending changes plus a
// path-indexed lookup, giving O(1) collapse-on-track while preserving
// insertion order for anyone who wants it (Changes() itself re-sorts into
// canonical order before returning, per spec.md §5).
type changeTracker struct {
	nodes      []changeNode
	byPath     map[string]int
	head, tail int
}

func newChangeTracker() *changeTracker {
	return &changeTracker{byPath: map[string]int{}, head: -1, tail: -1}
}

func (ct *changeTracker) track(op Op, path string, entry Entry) {
	debug.Assert(path != "", "track called for tree root; every mutator rejects root paths before tracking")
	if idx, ok := ct.byPath[path]; ok {
		prior := ct.nodes[idx].change.Op
		action, resultOp := collapse(prior, op)
		ct.unlink(idx)
		delete(ct.byPath, path)
		if action == collapseDrop {
			return
		}
		ct.append(resultOp, path, entry)
		return
	}
	ct.append(op, path, entry)
}

func (ct *changeTracker) append(op Op, path string, entry Entry) {
	idx := len(ct.nodes)
	ct.nodes = append(ct.nodes, changeNode{prev: ct.tail, next: -1, change: Change{Op: op, Path: path, Entry: entry}})
	if ct.tail != -1 {
		ct.nodes[ct.tail].next = idx
	} else {
		ct.head = idx
	}
	ct.tail = idx
	ct.byPath[path] = idx
}

func (ct *changeTracker) unlink(idx int) {
	n := ct.nodes[idx]
	if n.prev != -1 {
		ct.nodes[n.prev].next = n.next
	} else {
		ct.head = n.next
	}
	if n.next != -1 {
		ct.nodes[n.next].prev = n.prev
	} else {
		ct.tail = n.prev
	}
}

// list returns the pending changes in insertion order (post-collapsing).
func (ct *changeTracker) list() []Change {
	var out []Change
	for n := ct.head; n != -1; n = ct.nodes[n].next {
		out = append(out, ct.nodes[n].change)
	}
	return out
}
