package util

import "hash/fnv"

// StreamID derives a stable frame stream id from a producer name. The sign
// bit is cleared so ids never collide with the -1 "no stream" marker.
func StreamID(name string) int32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int32(h.Sum32() & 0x7fffffff)
}
