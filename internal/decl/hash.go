package decl

// idHasher implements immutable.Hasher for ID (FNV-1a).
type idHasher struct{}

func (idHasher) Hash(key ID) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return h
}

func (idHasher) Equal(a, b ID) bool { return a == b }
