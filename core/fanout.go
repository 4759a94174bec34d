package core

// KeyFunc derives the partition key of a record
type KeyFunc func(record *Record) string

// ShardConfig configures key-partitioned parallel processing.
//
// Every shard gets its own stage from NewStage, so stateful stages are never
// shared between goroutines. Records with equal keys always reach the same shard.
type ShardConfig struct {
	// Shards is the number of parallel stage instances
	Shards int

	// Key computes the partition key, usually the correlation key
	Key KeyFunc

	// NewStage builds the stage for shard i
	NewStage func(i int) (Stage, error)
}
