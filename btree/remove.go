package btree

import (
	"fmt"

	"github.com/pagedkv/pagedkv/kvengine"
)

// Remove deletes key if present, reporting whether it was found.
func (t *Tree[K, V]) Remove(key K) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openTraversals > 0 {
		return false, fmt.Errorf("btree: remove: %w: a traversal is in progress", kvengine.ErrInvalidOperation)
	}
	if t.root == NoPage {
		return false, nil
	}

	removed, err := t.removeFromSubtree(t.root, key)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	t.count--

	rootCount, err := t.nodePairCount(t.root)
	if err != nil {
		return false, err
	}
	if rootCount == 0 {
		leaf, err := t.nodeIsLeaf(t.root)
		if err != nil {
			return false, err
		}
		if leaf {
			if _, err := t.cache.FreePage(t.root); err != nil {
				return false, err
			}
			t.root = NoPage
		} else {
			onlyChild, err := t.nodeSubtree(t.root, 0)
			if err != nil {
				return false, err
			}
			if _, err := t.cache.FreePage(t.root); err != nil {
				return false, err
			}
			t.root = onlyChild
		}
	}
	return true, t.writeMetaLocked()
}

// removeFromSubtree removes key from the subtree rooted at page,
// maintaining the invariant that every node it descends into has more
// than minFill pairs (fixed up beforehand via ensureChildSufficiency),
// so that removal never needs to re-ascend to fix an underflow.
func (t *Tree[K, V]) removeFromSubtree(page int64, key K) (bool, error) {
	pairCount, err := t.nodePairCount(page)
	if err != nil {
		return false, err
	}
	idx, found, err := t.findInNode(page, pairCount, key)
	if err != nil {
		return false, err
	}
	leaf, err := t.nodeIsLeaf(page)
	if err != nil {
		return false, err
	}

	if found {
		if leaf {
			if err := t.shiftKeys(page, idx+1, idx, pairCount-idx-1); err != nil {
				return false, err
			}
			if err := t.shiftValues(page, idx+1, idx, pairCount-idx-1); err != nil {
				return false, err
			}
			return true, t.nodeSetPairCount(page, pairCount-1)
		}
		return true, t.removeFromInternal(page, idx)
	}

	if leaf {
		return false, nil
	}
	childIdx, err := t.ensureChildSufficiency(page, idx)
	if err != nil {
		return false, err
	}
	child, err := t.nodeSubtree(page, childIdx)
	if err != nil {
		return false, err
	}
	return t.removeFromSubtree(child, key)
}

// removeFromInternal removes the pair at index idx of an internal
// node, replacing it with its predecessor (from the left child) or
// successor (from the right child), preferring whichever side has
// spare capacity so the replacement never itself triggers a merge.
func (t *Tree[K, V]) removeFromInternal(page, idx int64) error {
	leftChild, err := t.nodeSubtree(page, idx)
	if err != nil {
		return err
	}
	rightChild, err := t.nodeSubtree(page, idx+1)
	if err != nil {
		return err
	}
	leftCount, err := t.nodePairCount(leftChild)
	if err != nil {
		return err
	}
	rightCount, err := t.nodePairCount(rightChild)
	if err != nil {
		return err
	}

	switch {
	case leftCount > t.minFill:
		key, value, err := t.removeMaxFrom(leftChild)
		if err != nil {
			return err
		}
		if err := t.nodeSetKey(page, idx, key); err != nil {
			return err
		}
		return t.nodeSetValue(page, idx, value)
	case rightCount > t.minFill:
		key, value, err := t.removeMinFrom(rightChild)
		if err != nil {
			return err
		}
		if err := t.nodeSetKey(page, idx, key); err != nil {
			return err
		}
		return t.nodeSetValue(page, idx, value)
	default:
		if err := t.mergeChildren(page, idx); err != nil {
			return err
		}
		merged, err := t.nodeSubtree(page, idx)
		if err != nil {
			return err
		}
		// The key to remove is now at position leftCount within merged,
		// which holds a full node's worth of pairs; remove it from there
		// so an internal merged node also gets its subtrees rejoined.
		key, err := t.nodeKey(merged, leftCount)
		if err != nil {
			return err
		}
		_, err = t.removeFromSubtree(merged, key)
		return err
	}
}

// removeMaxFrom removes and returns the greatest pair in the subtree
// rooted at page.
func (t *Tree[K, V]) removeMaxFrom(page int64) (K, V, error) {
	var zeroK K
	var zeroV V
	leaf, err := t.nodeIsLeaf(page)
	if err != nil {
		return zeroK, zeroV, err
	}
	pairCount, err := t.nodePairCount(page)
	if err != nil {
		return zeroK, zeroV, err
	}
	if leaf {
		k, err := t.nodeKey(page, pairCount-1)
		if err != nil {
			return zeroK, zeroV, err
		}
		v, err := t.nodeValue(page, pairCount-1)
		if err != nil {
			return zeroK, zeroV, err
		}
		return k, v, t.nodeSetPairCount(page, pairCount-1)
	}
	childIdx, err := t.ensureChildSufficiency(page, pairCount)
	if err != nil {
		return zeroK, zeroV, err
	}
	child, err := t.nodeSubtree(page, childIdx)
	if err != nil {
		return zeroK, zeroV, err
	}
	return t.removeMaxFrom(child)
}

// removeMinFrom removes and returns the least pair in the subtree
// rooted at page.
func (t *Tree[K, V]) removeMinFrom(page int64) (K, V, error) {
	var zeroK K
	var zeroV V
	leaf, err := t.nodeIsLeaf(page)
	if err != nil {
		return zeroK, zeroV, err
	}
	if leaf {
		k, err := t.nodeKey(page, 0)
		if err != nil {
			return zeroK, zeroV, err
		}
		v, err := t.nodeValue(page, 0)
		if err != nil {
			return zeroK, zeroV, err
		}
		pairCount, err := t.nodePairCount(page)
		if err != nil {
			return zeroK, zeroV, err
		}
		if err := t.shiftKeys(page, 1, 0, pairCount-1); err != nil {
			return zeroK, zeroV, err
		}
		if err := t.shiftValues(page, 1, 0, pairCount-1); err != nil {
			return zeroK, zeroV, err
		}
		return k, v, t.nodeSetPairCount(page, pairCount-1)
	}
	childIdx, err := t.ensureChildSufficiency(page, 0)
	if err != nil {
		return zeroK, zeroV, err
	}
	child, err := t.nodeSubtree(page, childIdx)
	if err != nil {
		return zeroK, zeroV, err
	}
	return t.removeMinFrom(child)
}

// ensureChildSufficiency guarantees that parent's subtree at childIdx
// has more than minFill pairs before the caller descends into it,
// borrowing a pair from an adjacent sibling with spare capacity, or
// merging with one otherwise. It returns the (possibly shifted) index
// of that child within parent after the fix-up.
func (t *Tree[K, V]) ensureChildSufficiency(parent, childIdx int64) (int64, error) {
	child, err := t.nodeSubtree(parent, childIdx)
	if err != nil {
		return 0, err
	}
	childCount, err := t.nodePairCount(child)
	if err != nil {
		return 0, err
	}
	if childCount > t.minFill {
		return childIdx, nil
	}

	parentCount, err := t.nodePairCount(parent)
	if err != nil {
		return 0, err
	}

	if childIdx > 0 {
		leftSib, err := t.nodeSubtree(parent, childIdx-1)
		if err != nil {
			return 0, err
		}
		leftCount, err := t.nodePairCount(leftSib)
		if err != nil {
			return 0, err
		}
		if leftCount > t.minFill {
			return childIdx, t.borrowFromLeft(parent, childIdx)
		}
	}
	if childIdx < parentCount {
		rightSib, err := t.nodeSubtree(parent, childIdx+1)
		if err != nil {
			return 0, err
		}
		rightCount, err := t.nodePairCount(rightSib)
		if err != nil {
			return 0, err
		}
		if rightCount > t.minFill {
			return childIdx, t.borrowFromRight(parent, childIdx)
		}
	}
	if childIdx > 0 {
		if err := t.mergeChildren(parent, childIdx-1); err != nil {
			return 0, err
		}
		return childIdx - 1, nil
	}
	if err := t.mergeChildren(parent, childIdx); err != nil {
		return 0, err
	}
	return childIdx, nil
}

// borrowFromLeft rotates one pair from the left sibling of parent's
// child at childIdx, through parent, into that child.
func (t *Tree[K, V]) borrowFromLeft(parent, childIdx int64) error {
	child, err := t.nodeSubtree(parent, childIdx)
	if err != nil {
		return err
	}
	leftSib, err := t.nodeSubtree(parent, childIdx-1)
	if err != nil {
		return err
	}
	childCount, err := t.nodePairCount(child)
	if err != nil {
		return err
	}
	leftCount, err := t.nodePairCount(leftSib)
	if err != nil {
		return err
	}
	leaf, err := t.nodeIsLeaf(child)
	if err != nil {
		return err
	}

	if err := t.shiftKeys(child, 0, 1, childCount); err != nil {
		return err
	}
	if err := t.shiftValues(child, 0, 1, childCount); err != nil {
		return err
	}
	if !leaf {
		if err := t.shiftSubtrees(child, 0, 1, childCount+1); err != nil {
			return err
		}
		lastSub, err := t.nodeSubtree(leftSib, leftCount)
		if err != nil {
			return err
		}
		if err := t.nodeSetSubtree(child, 0, lastSub); err != nil {
			return err
		}
	}
	sepKey, err := t.nodeKey(parent, childIdx-1)
	if err != nil {
		return err
	}
	sepValue, err := t.nodeValue(parent, childIdx-1)
	if err != nil {
		return err
	}
	if err := t.nodeSetKey(child, 0, sepKey); err != nil {
		return err
	}
	if err := t.nodeSetValue(child, 0, sepValue); err != nil {
		return err
	}

	newSepKey, err := t.nodeKey(leftSib, leftCount-1)
	if err != nil {
		return err
	}
	newSepValue, err := t.nodeValue(leftSib, leftCount-1)
	if err != nil {
		return err
	}
	if err := t.nodeSetKey(parent, childIdx-1, newSepKey); err != nil {
		return err
	}
	if err := t.nodeSetValue(parent, childIdx-1, newSepValue); err != nil {
		return err
	}

	if err := t.nodeSetPairCount(leftSib, leftCount-1); err != nil {
		return err
	}
	return t.nodeSetPairCount(child, childCount+1)
}

// borrowFromRight rotates one pair from the right sibling of parent's
// child at childIdx, through parent, into that child.
func (t *Tree[K, V]) borrowFromRight(parent, childIdx int64) error {
	child, err := t.nodeSubtree(parent, childIdx)
	if err != nil {
		return err
	}
	rightSib, err := t.nodeSubtree(parent, childIdx+1)
	if err != nil {
		return err
	}
	childCount, err := t.nodePairCount(child)
	if err != nil {
		return err
	}
	rightCount, err := t.nodePairCount(rightSib)
	if err != nil {
		return err
	}
	leaf, err := t.nodeIsLeaf(child)
	if err != nil {
		return err
	}

	sepKey, err := t.nodeKey(parent, childIdx)
	if err != nil {
		return err
	}
	sepValue, err := t.nodeValue(parent, childIdx)
	if err != nil {
		return err
	}
	if err := t.nodeSetKey(child, childCount, sepKey); err != nil {
		return err
	}
	if err := t.nodeSetValue(child, childCount, sepValue); err != nil {
		return err
	}
	if !leaf {
		firstSub, err := t.nodeSubtree(rightSib, 0)
		if err != nil {
			return err
		}
		if err := t.nodeSetSubtree(child, childCount+1, firstSub); err != nil {
			return err
		}
		if err := t.shiftSubtrees(rightSib, 1, 0, rightCount); err != nil {
			return err
		}
	}

	newSepKey, err := t.nodeKey(rightSib, 0)
	if err != nil {
		return err
	}
	newSepValue, err := t.nodeValue(rightSib, 0)
	if err != nil {
		return err
	}
	if err := t.nodeSetKey(parent, childIdx, newSepKey); err != nil {
		return err
	}
	if err := t.nodeSetValue(parent, childIdx, newSepValue); err != nil {
		return err
	}
	if err := t.shiftKeys(rightSib, 1, 0, rightCount-1); err != nil {
		return err
	}
	if err := t.shiftValues(rightSib, 1, 0, rightCount-1); err != nil {
		return err
	}

	if err := t.nodeSetPairCount(rightSib, rightCount-1); err != nil {
		return err
	}
	return t.nodeSetPairCount(child, childCount+1)
}

// mergeChildren folds parent's key/value at leftIdx and the entire
// right child at leftIdx+1 into the left child at leftIdx, then frees
// the now-empty right child's page.
func (t *Tree[K, V]) mergeChildren(parent, leftIdx int64) error {
	left, err := t.nodeSubtree(parent, leftIdx)
	if err != nil {
		return err
	}
	right, err := t.nodeSubtree(parent, leftIdx+1)
	if err != nil {
		return err
	}
	leftCount, err := t.nodePairCount(left)
	if err != nil {
		return err
	}
	rightCount, err := t.nodePairCount(right)
	if err != nil {
		return err
	}
	leaf, err := t.nodeIsLeaf(left)
	if err != nil {
		return err
	}

	sepKey, err := t.nodeKey(parent, leftIdx)
	if err != nil {
		return err
	}
	sepValue, err := t.nodeValue(parent, leftIdx)
	if err != nil {
		return err
	}
	if err := t.nodeSetKey(left, leftCount, sepKey); err != nil {
		return err
	}
	if err := t.nodeSetValue(left, leftCount, sepValue); err != nil {
		return err
	}

	if err := t.copyKeys(right, 0, left, leftCount+1, rightCount); err != nil {
		return err
	}
	if err := t.copyValues(right, 0, left, leftCount+1, rightCount); err != nil {
		return err
	}
	if !leaf {
		if err := t.copySubtrees(right, 0, left, leftCount+1, rightCount+1); err != nil {
			return err
		}
	}
	if err := t.nodeSetPairCount(left, leftCount+1+rightCount); err != nil {
		return err
	}

	if _, err := t.cache.FreePage(right); err != nil {
		return err
	}

	parentCount, err := t.nodePairCount(parent)
	if err != nil {
		return err
	}
	if err := t.shiftKeys(parent, leftIdx+1, leftIdx, parentCount-leftIdx-1); err != nil {
		return err
	}
	if err := t.shiftValues(parent, leftIdx+1, leftIdx, parentCount-leftIdx-1); err != nil {
		return err
	}
	if err := t.shiftSubtrees(parent, leftIdx+2, leftIdx+1, parentCount-leftIdx-1); err != nil {
		return err
	}
	return t.nodeSetPairCount(parent, parentCount-1)
}
