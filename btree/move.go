package btree

// All cross-node and within-node data movement funnels through the
// functions in this file, which move at most maxMovePairCount pairs (or
// subtree pointers) at a time through the tree's single reusable
// scratch buffer — per spec.md §4.3/§5, no move operation allocates
// memory proportional to the move size.

// copyRegion copies count elements of width bytes from page srcPage
// (element index srcIdx within the array starting at base srcBase) to
// page dstPage (element index dstIdx within the array starting at
// srcBase/dstBase may differ only if the caller passes distinct base
// offsets). It does not need to worry about overlap: srcPage and
// dstPage are always distinct pages when this is used (node splits and
// merges always move data between two different node pages).
func (t *Tree[K, V]) copyRegion(srcPage, srcBase, srcIdx, dstPage, dstBase, dstIdx, width, count int64) error {
	for count > 0 {
		chunk := t.maxMovePairCount
		if chunk > count {
			chunk = count
		}
		buf := t.scratch[:chunk*width]
		if err := t.cache.ReadFrom(srcPage, srcBase+srcIdx*width, buf); err != nil {
			return err
		}
		if err := t.cache.WriteTo(dstPage, dstBase+dstIdx*width, buf); err != nil {
			return err
		}
		srcIdx += chunk
		dstIdx += chunk
		count -= chunk
	}
	return nil
}

// shiftRegion moves count elements of width bytes within a single page
// from element index src to element index dst (same array, so src and
// dst ranges may overlap). It chunks through the scratch buffer,
// choosing processing order so that it never overwrites source data it
// has not yet read: back-to-front when shifting toward higher indices,
// front-to-back when shifting toward lower indices.
func (t *Tree[K, V]) shiftRegion(page, base, src, dst, width, count int64) error {
	if count == 0 || src == dst {
		return nil
	}
	if dst > src {
		// Shifting right: process the trailing chunk first.
		remaining := count
		for remaining > 0 {
			chunk := t.maxMovePairCount
			if chunk > remaining {
				chunk = remaining
			}
			srcIdx := src + remaining - chunk
			dstIdx := dst + remaining - chunk
			buf := t.scratch[:chunk*width]
			if err := t.cache.ReadFrom(page, base+srcIdx*width, buf); err != nil {
				return err
			}
			if err := t.cache.WriteTo(page, base+dstIdx*width, buf); err != nil {
				return err
			}
			remaining -= chunk
		}
		return nil
	}
	// Shifting left: process the leading chunk first.
	srcIdx, dstIdx, remaining := src, dst, count
	for remaining > 0 {
		chunk := t.maxMovePairCount
		if chunk > remaining {
			chunk = remaining
		}
		buf := t.scratch[:chunk*width]
		if err := t.cache.ReadFrom(page, base+srcIdx*width, buf); err != nil {
			return err
		}
		if err := t.cache.WriteTo(page, base+dstIdx*width, buf); err != nil {
			return err
		}
		srcIdx += chunk
		dstIdx += chunk
		remaining -= chunk
	}
	return nil
}

func (t *Tree[K, V]) copyKeys(srcPage, srcIdx, dstPage, dstIdx, count int64) error {
	return t.copyRegion(srcPage, nodeKeysOffset, srcIdx, dstPage, nodeKeysOffset, dstIdx, t.keySize, count)
}

func (t *Tree[K, V]) copyValues(srcPage, srcIdx, dstPage, dstIdx, count int64) error {
	off := nodeValuesOffset(t.cap, t.keySize)
	return t.copyRegion(srcPage, off, srcIdx, dstPage, off, dstIdx, t.valueSize, count)
}

func (t *Tree[K, V]) copySubtrees(srcPage, srcIdx, dstPage, dstIdx, count int64) error {
	off := nodeSubtreesOffset(t.cap, t.keySize, t.valueSize)
	return t.copyRegion(srcPage, off, srcIdx, dstPage, off, dstIdx, 8, count)
}

func (t *Tree[K, V]) shiftKeys(page, src, dst, count int64) error {
	return t.shiftRegion(page, nodeKeysOffset, src, dst, t.keySize, count)
}

func (t *Tree[K, V]) shiftValues(page, src, dst, count int64) error {
	off := nodeValuesOffset(t.cap, t.keySize)
	return t.shiftRegion(page, off, src, dst, t.valueSize, count)
}

func (t *Tree[K, V]) shiftSubtrees(page, src, dst, count int64) error {
	off := nodeSubtreesOffset(t.cap, t.keySize, t.valueSize)
	return t.shiftRegion(page, off, src, dst, 8, count)
}
