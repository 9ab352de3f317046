package codec

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pagedkv/pagedkv/kvengine"
)

// UUIDCodec encodes a google/uuid.UUID as its 16 raw bytes, grounded on
// the teacher's UUID primary-key helpers (internal/storage/uuid_helpers.go),
// which convert UUID values to and from fixed-width storage the same
// way. It is a natural fixed-size key codec: UUIDs compare correctly
// byte-for-byte, so a plain bytes.Compare works as the tree comparator.
type UUIDCodec struct{}

func (UUIDCodec) Size() int64 { return 16 }

func (UUIDCodec) Serialize(v uuid.UUID, buf []byte) {
	copy(buf, v[:])
}

func (UUIDCodec) Deserialize(buf []byte) (uuid.UUID, error) {
	var out uuid.UUID
	if len(buf) != 16 {
		return out, fmt.Errorf("codec: uuid: %w: expected 16 bytes, got %d", kvengine.ErrCorruptData, len(buf))
	}
	copy(out[:], buf)
	return out, nil
}

// CompareUUID orders UUIDs by their raw byte representation, suitable
// as a btree.Comparator[uuid.UUID].
func CompareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
