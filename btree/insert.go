package btree

import (
	"fmt"

	"github.com/pagedkv/pagedkv/kvengine"
)

// Insert stores key/value and returns true only when a new pair was
// added. If key is already present and update is true, its value is
// overwritten and Insert returns (false, nil). If key is present and
// update is false, the existing pair is left untouched and Insert also
// returns (false, nil): the result does not distinguish an update from
// a rejected duplicate, so callers that need to know whether the key
// existed should call ContainsKey first.
func (t *Tree[K, V]) Insert(key K, value V, update bool) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openTraversals > 0 {
		return false, fmt.Errorf("btree: insert: %w: a traversal is in progress", kvengine.ErrInvalidOperation)
	}

	if t.root == NoPage {
		root, err := t.newNode(true)
		if err != nil {
			return false, err
		}
		if err := t.nodeSetKey(root, 0, key); err != nil {
			return false, err
		}
		if err := t.nodeSetValue(root, 0, value); err != nil {
			return false, err
		}
		if err := t.nodeSetPairCount(root, 1); err != nil {
			return false, err
		}
		t.root = root
		t.count = 1
		return true, t.writeMetaLocked()
	}

	rootPairCount, err := t.nodePairCount(t.root)
	if err != nil {
		return false, err
	}
	if rootPairCount == t.cap {
		newRoot, err := t.newNode(false)
		if err != nil {
			return false, err
		}
		if err := t.nodeSetSubtree(newRoot, 0, t.root); err != nil {
			return false, err
		}
		if err := t.splitChild(newRoot, 0); err != nil {
			return false, err
		}
		t.root = newRoot
	}

	inserted, err := t.insertNonFull(t.root, key, value, update)
	if err != nil {
		return false, err
	}
	if inserted {
		t.count++
		if err := t.writeMetaLocked(); err != nil {
			return false, err
		}
	}
	return inserted, nil
}

// insertNonFull inserts key/value into the subtree rooted at page,
// which is guaranteed to not be a full node (the caller splits full
// children before descending into them).
func (t *Tree[K, V]) insertNonFull(page int64, key K, value V, update bool) (bool, error) {
	pairCount, err := t.nodePairCount(page)
	if err != nil {
		return false, err
	}
	idx, found, err := t.findInNode(page, pairCount, key)
	if err != nil {
		return false, err
	}
	if found {
		if !update {
			return false, nil
		}
		return false, t.nodeSetValue(page, idx, value)
	}

	leaf, err := t.nodeIsLeaf(page)
	if err != nil {
		return false, err
	}
	if leaf {
		if err := t.shiftKeys(page, idx, idx+1, pairCount-idx); err != nil {
			return false, err
		}
		if err := t.shiftValues(page, idx, idx+1, pairCount-idx); err != nil {
			return false, err
		}
		if err := t.nodeSetKey(page, idx, key); err != nil {
			return false, err
		}
		if err := t.nodeSetValue(page, idx, value); err != nil {
			return false, err
		}
		return true, t.nodeSetPairCount(page, pairCount+1)
	}

	child, err := t.nodeSubtree(page, idx)
	if err != nil {
		return false, err
	}
	childPairCount, err := t.nodePairCount(child)
	if err != nil {
		return false, err
	}
	if childPairCount == t.cap {
		if err := t.splitChild(page, idx); err != nil {
			return false, err
		}
		// The median key just promoted into page at idx may now be the
		// match, or key may belong in the new right sibling at idx+1.
		promoted, err := t.nodeKey(page, idx)
		if err != nil {
			return false, err
		}
		switch c := t.cmp(key, promoted); {
		case c == 0:
			if !update {
				return false, nil
			}
			return false, t.nodeSetValue(page, idx, value)
		case c > 0:
			child, err = t.nodeSubtree(page, idx+1)
			if err != nil {
				return false, err
			}
		}
	}
	return t.insertNonFull(child, key, value, update)
}

// splitChild splits the full child of parent at subtree slot
// childIdx into two nodes, promoting the child's median pair into
// parent at index childIdx.
func (t *Tree[K, V]) splitChild(parent, childIdx int64) error {
	child, err := t.nodeSubtree(parent, childIdx)
	if err != nil {
		return err
	}
	leaf, err := t.nodeIsLeaf(child)
	if err != nil {
		return err
	}
	mid := t.cap / 2 // cap is odd, so this is the exact median index
	medianKey, err := t.nodeKey(child, mid)
	if err != nil {
		return err
	}
	medianValue, err := t.nodeValue(child, mid)
	if err != nil {
		return err
	}

	right, err := t.newNode(leaf)
	if err != nil {
		return err
	}
	rightCount := t.cap - mid - 1
	if err := t.copyKeys(child, mid+1, right, 0, rightCount); err != nil {
		return err
	}
	if err := t.copyValues(child, mid+1, right, 0, rightCount); err != nil {
		return err
	}
	if !leaf {
		if err := t.copySubtrees(child, mid+1, right, 0, rightCount+1); err != nil {
			return err
		}
	}
	if err := t.nodeSetPairCount(right, rightCount); err != nil {
		return err
	}
	if err := t.nodeSetPairCount(child, mid); err != nil {
		return err
	}

	parentCount, err := t.nodePairCount(parent)
	if err != nil {
		return err
	}
	if err := t.shiftKeys(parent, childIdx, childIdx+1, parentCount-childIdx); err != nil {
		return err
	}
	if err := t.shiftValues(parent, childIdx, childIdx+1, parentCount-childIdx); err != nil {
		return err
	}
	if err := t.shiftSubtrees(parent, childIdx+1, childIdx+2, parentCount-childIdx); err != nil {
		return err
	}
	if err := t.nodeSetKey(parent, childIdx, medianKey); err != nil {
		return err
	}
	if err := t.nodeSetValue(parent, childIdx, medianValue); err != nil {
		return err
	}
	if err := t.nodeSetSubtree(parent, childIdx+1, right); err != nil {
		return err
	}
	return t.nodeSetPairCount(parent, parentCount+1)
}
