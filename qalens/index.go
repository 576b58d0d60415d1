package qalens

// KeyIndex maps normalized join keys to record positions, preserving source order.
type KeyIndex struct {
	positions map[string][]int
	size      int
}

// NewKeyIndex indexes records by the value of role. Records with an empty key are not indexed.
func NewKeyIndex(records []NormalizedRecord, role Role) *KeyIndex {
	idx := &KeyIndex{positions: make(map[string][]int)}
	for i, rec := range records {
		key := NormalizeKey(rec.RoleValue(role))
		if key == "" {
			continue
		}
		idx.positions[key] = append(idx.positions[key], i)
		idx.size++
	}
	return idx
}

// Lookup returns the positions indexed under key, in source order.
func (idx *KeyIndex) Lookup(key string) []int {
	key = NormalizeKey(key)
	if key == "" {
		return nil
	}
	return idx.positions[key]
}

// Size returns the number of indexed records.
func (idx *KeyIndex) Size() int {
	return idx.size
}

// Keys returns the number of distinct keys.
func (idx *KeyIndex) Keys() int {
	return len(idx.positions)
}
