package btree

// TryGetValue returns the value stored for key and true, or the zero
// value and false if key is absent.
func (t *Tree[K, V]) TryGetValue(key K) (V, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero V
	if t.root == NoPage {
		return zero, false, nil
	}
	page := t.root
	for {
		pairCount, err := t.nodePairCount(page)
		if err != nil {
			return zero, false, err
		}
		idx, found, err := t.findInNode(page, pairCount, key)
		if err != nil {
			return zero, false, err
		}
		if found {
			v, err := t.nodeValue(page, idx)
			return v, true, err
		}
		leaf, err := t.nodeIsLeaf(page)
		if err != nil {
			return zero, false, err
		}
		if leaf {
			return zero, false, nil
		}
		next, err := t.nodeSubtree(page, idx)
		if err != nil {
			return zero, false, err
		}
		page = next
	}
}

// ContainsKey reports whether key is present, without returning its
// value.
func (t *Tree[K, V]) ContainsKey(key K) (bool, error) {
	_, ok, err := t.TryGetValue(key)
	return ok, err
}
