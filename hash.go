package main

// reverseBytes returns a newly allocated reversed copy of b. Bitcoin hashes
// are produced internally little-endian but conventionally displayed
// big-endian (reversed byte order).
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
