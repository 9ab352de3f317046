package btree

import (
	"fmt"

	"github.com/pagedkv/pagedkv/kvengine"
)

type traverseFrame struct {
	page         int64
	pairCount    int64
	leaf         bool
	idx          int64 // ascending: next child/pair index, counting up; descending: counting down
	childVisited bool
}

// Iterator walks a Tree's pairs in key order (ascending or descending),
// opened by Tree.Traverse. While an Iterator is open, mutating calls on
// the same Tree are rejected — see spec.md §5's traversal-vs-mutation
// exclusion. Close it (or drain it to exhaustion, which closes it
// implicitly) as soon as it is no longer needed.
type Iterator[K any, V any] struct {
	tree      *Tree[K, V]
	ascending bool
	stack     []traverseFrame
	closed    bool
}

// Traverse opens an Iterator over every pair in the tree, in ascending
// or descending key order. Several traversals may be open on the same
// tree at once; mutation stays blocked until every one is closed.
func (t *Tree[K, V]) Traverse(ascending bool) (*Iterator[K, V], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	it := &Iterator[K, V]{tree: t, ascending: ascending}
	if t.root != NoPage {
		f, err := t.pushFrame(t.root, ascending)
		if err != nil {
			return nil, err
		}
		it.stack = []traverseFrame{f}
	}
	t.openTraversals++
	return it, nil
}

func (t *Tree[K, V]) pushFrame(page int64, ascending bool) (traverseFrame, error) {
	leaf, err := t.nodeIsLeaf(page)
	if err != nil {
		return traverseFrame{}, err
	}
	pairCount, err := t.nodePairCount(page)
	if err != nil {
		return traverseFrame{}, err
	}
	idx := int64(0)
	if !ascending {
		idx = pairCount
	}
	return traverseFrame{page: page, pairCount: pairCount, leaf: leaf, idx: idx}, nil
}

// Next advances the iterator, returning the next key/value pair in
// order and ok=true, or ok=false once every pair has been visited (at
// which point the iterator closes itself automatically).
func (it *Iterator[K, V]) Next() (key K, value V, ok bool, err error) {
	var zeroK K
	var zeroV V
	if it.closed {
		return zeroK, zeroV, false, fmt.Errorf("btree: iterator: %w: already closed", kvengine.ErrInvalidOperation)
	}
	t := it.tree
	t.mu.Lock()
	defer t.mu.Unlock()

	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]

		if it.ascending {
			if top.idx > top.pairCount {
				it.stack = it.stack[:len(it.stack)-1]
				continue
			}
			if !top.leaf && !top.childVisited {
				child, err := t.nodeSubtree(top.page, top.idx)
				if err != nil {
					return zeroK, zeroV, false, err
				}
				top.childVisited = true
				f, err := t.pushFrame(child, true)
				if err != nil {
					return zeroK, zeroV, false, err
				}
				it.stack = append(it.stack, f)
				continue
			}
			if top.idx == top.pairCount {
				it.stack = it.stack[:len(it.stack)-1]
				continue
			}
			k, err := t.nodeKey(top.page, top.idx)
			if err != nil {
				return zeroK, zeroV, false, err
			}
			v, err := t.nodeValue(top.page, top.idx)
			if err != nil {
				return zeroK, zeroV, false, err
			}
			top.idx++
			top.childVisited = false
			return k, v, true, nil
		}

		// descending
		if top.idx < 0 {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		if !top.leaf && !top.childVisited {
			child, err := t.nodeSubtree(top.page, top.idx)
			if err != nil {
				return zeroK, zeroV, false, err
			}
			top.childVisited = true
			f, err := t.pushFrame(child, false)
			if err != nil {
				return zeroK, zeroV, false, err
			}
			it.stack = append(it.stack, f)
			continue
		}
		if top.idx == 0 {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		k, err := t.nodeKey(top.page, top.idx-1)
		if err != nil {
			return zeroK, zeroV, false, err
		}
		v, err := t.nodeValue(top.page, top.idx-1)
		if err != nil {
			return zeroK, zeroV, false, err
		}
		top.idx--
		top.childVisited = false
		return k, v, true, nil
	}

	it.closeLocked()
	return zeroK, zeroV, false, nil
}

// Close ends the traversal early, re-enabling mutation on the tree. It
// is safe to call more than once.
func (it *Iterator[K, V]) Close() {
	t := it.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	it.closeLocked()
}

func (it *Iterator[K, V]) closeLocked() {
	if it.closed {
		return
	}
	it.closed = true
	it.tree.openTraversals--
}
