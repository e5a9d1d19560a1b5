package core

// FlagState represents one state in the tree-propagation flag lattice used by
// scanAgain, checkMovesAgain, syncAgain, conflicts, useBlocked, and
// scanBlocked (spec §3). The lattice order is:
//
//	Resolved < DescendantFlagged < Here <= HereAndBelow
//
// "Here" and "HereAndBelow" are incomparable in the strict sense that neither
// subsumes work the other doesn't also require at this node, but
// HereAndBelow additionally forces descendants to re-derive their own flag,
// so for the purposes of Merge it is treated as the top element.
type FlagState uint8

const (
	// Resolved means no outstanding work of this kind exists at or below
	// this node.
	Resolved FlagState = iota
	// DescendantFlagged means some descendant (not this node) needs this
	// kind of work.
	DescendantFlagged
	// Here means this node itself needs this kind of work.
	Here
	// HereAndBelow means this node and, unconditionally, its whole subtree
	// need this kind of work.
	HereAndBelow
)

// rank gives the total order used to implement Merge; ties are broken by
// defining HereAndBelow as strictly dominant, matching its semantics of
// forcing the whole subtree.
func (s FlagState) rank() int {
	return int(s)
}

// Merge combines two flag states using the lattice's join (least upper
// bound): the result requires at least as much work as either input. Parents
// use this to fold their children's propagated flags into their own state
// during Step C (flag propagation) of a reconciliation pass.
func Merge(a, b FlagState) FlagState {
	if a.rank() >= b.rank() {
		return a
	}
	return b
}

// AsAncestor returns the flag state a parent should carry when a child
// reports state s and the parent previously had no flag of its own. A
// "Here" state in the child becomes "DescendantFlagged" in the parent
// (something below needs work, but not the parent itself); "HereAndBelow"
// remains dominant and also becomes "DescendantFlagged" from the parent's own
// perspective, since the parent itself isn't being told to act, only that a
// descendant requires another pass.
func AsAncestor(s FlagState) FlagState {
	if s == Resolved {
		return Resolved
	}
	return DescendantFlagged
}
