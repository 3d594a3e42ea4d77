package sharding

import (
	"fmt"
	"hash/crc32"
	"strings"
)

// ShardCount is the fixed number of partitions for the event stream.
const ShardCount = 1024

// GetShardID calculates the deterministic shard ID for a given entity ID.
// All events for one entity land on one shard, which is what preserves
// per-entity ordering through the channel.
func GetShardID(entityID string) int {
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % ShardCount)
}

// EventSubject returns the stream subject for a domain event.
// Format: audit.event.{shard_id}.{entity}.{entity_id}
func EventSubject(entity, entityID string) string {
	shardID := GetShardID(entityID)
	return fmt.Sprintf("audit.event.%d.%s.%s", shardID, sanitize(entity), sanitize(entityID))
}

// SnapshotSubject returns the stream subject carrying one snapshot artifact.
// Format: audit.snapshot.{snapshot_id}
func SnapshotSubject(snapshotID string) string {
	return fmt.Sprintf("audit.snapshot.%s", sanitize(snapshotID))
}

// sanitize keeps identifiers valid as subject tokens. Dots and spaces would
// otherwise split the token.
func sanitize(token string) string {
	token = strings.ReplaceAll(token, ".", "_")
	token = strings.ReplaceAll(token, " ", "_")
	if token == "" {
		return "_"
	}
	return token
}
