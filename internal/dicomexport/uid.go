package dicomexport

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
)

// uidRoot is a publicly registered root for generated identifiers. The
// appended digits come from a hash of the seed string, so UIDs stay inside
// the 64 character limit and never start a component with zero.
const uidRoot = "1.2.826.0.1.3680043.8.498."

func deterministicUID(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return uidRoot + strconv.FormatUint(binary.BigEndian.Uint64(sum[:8]), 10)
}
