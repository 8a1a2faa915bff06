package logbuffer

// Position packs a logical partition id and a partition offset into one
// totally ordered 64-bit value: (partitionID << 32) | partitionOffset.
func Position(partitionID, partitionOffset int) int64 {
	return int64(partitionID)<<32 | int64(uint32(partitionOffset))
}

// PartitionID extracts the logical partition id of a position.
func PartitionID(position int64) int {
	return int(int32(position >> 32))
}

// PartitionOffset extracts the partition-local offset of a position.
func PartitionOffset(position int64) int {
	return int(int32(position))
}
