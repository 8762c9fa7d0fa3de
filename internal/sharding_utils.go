package internal

// ShardForKey deterministically maps a user id to a shard in [0, shardCount).
// It is allocation-free and stable across restarts, which keeps per-user
// lock selection in the connection pool cheap on the send path.
//
// shardCount must be > 0.
func ShardForKey(key string, shardCount int) int {
	if shardCount <= 0 {
		panic("shardCount must be > 0")
	}

	// FNV-1a 32-bit
	var hash uint32 = 2166136261
	for i := range len(key) {
		hash ^= uint32(key[i])
		hash *= 16777619
	}

	return int(hash % uint32(shardCount)) //nolint:gosec // shardCount checked positive above
}
