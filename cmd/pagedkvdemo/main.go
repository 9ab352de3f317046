// Command pagedkvdemo exercises a minimal round trip through every
// layer of the engine: an in-memory backing store, a Paged Storage
// instance over it, a page cache in write-back mode, and a B-tree of
// uint64 keys to fixed-length string values.
package main

import (
	"cmp"
	"fmt"

	"github.com/pagedkv/pagedkv/backingstore"
	"github.com/pagedkv/pagedkv/btree"
	"github.com/pagedkv/pagedkv/codec"
	"github.com/pagedkv/pagedkv/pagecache"
	"github.com/pagedkv/pagedkv/pagestore"
)

func main() {
	const pairCap = 5 // odd, >= 3
	keyCodec := codec.Uint64Codec{}
	valueCodec := codec.FixedString{N: 16}
	pageSize := btree.RequiredPageSize(pairCap, keyCodec.Size(), valueCodec.Size())

	store := backingstore.NewMemoryStore(backingstore.UnknownMaxSize)
	storage, err := pagestore.Create(store, pageSize, 4, nil, nil, 16)
	if err != nil {
		fmt.Println("create storage err:", err)
		return
	}

	cache := pagecache.New(storage, 8, pagecache.WriteBack)
	defer cache.Close()

	tree, metaPage, err := btree.Create[uint64, string](cache, pairCap, keyCodec, valueCodec, cmp.Compare[uint64], 4)
	if err != nil {
		fmt.Println("create tree err:", err)
		return
	}
	if err := cache.SetEntryPage(metaPage); err != nil {
		fmt.Println("set entry page err:", err)
		return
	}

	for i, name := range []string{"alice", "bob", "carol", "dave", "erin", "frank"} {
		if _, err := tree.Insert(uint64(i), name, false); err != nil {
			fmt.Println("insert err:", err)
			return
		}
	}

	if v, ok, err := tree.TryGetValue(2); err != nil {
		fmt.Println("get err:", err)
		return
	} else {
		fmt.Println("key 2 ->", v, ok)
	}

	if removed, err := tree.Remove(0); err != nil {
		fmt.Println("remove err:", err)
		return
	} else {
		fmt.Println("removed key 0:", removed)
	}

	it, err := tree.Traverse(true)
	if err != nil {
		fmt.Println("traverse err:", err)
		return
	}
	fmt.Println("ascending order:")
	for {
		k, v, ok, err := it.Next()
		if err != nil {
			fmt.Println("next err:", err)
			return
		}
		if !ok {
			break
		}
		fmt.Printf("  %d -> %s\n", k, v)
	}

	fmt.Printf("stats: %+v\n", cache.Stats())
}
