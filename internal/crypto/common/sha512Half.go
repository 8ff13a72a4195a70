package crypto

import "crypto/sha512"

// Returns the first 32 bytes of a sha512 hash of a message
func Sha512Half(msg []byte) [32]byte {
	h := sha512.Sum512(msg)
	var result [32]byte
	copy(result[:], h[:32])
	return result
}

// Sha512HalfPrefixed hashes a domain prefix followed by parts, without
// concatenating them first.
func Sha512HalfPrefixed(prefix [4]byte, parts ...[]byte) [32]byte {
	h := sha512.New()
	h.Write(prefix[:])
	for _, p := range parts {
		h.Write(p)
	}
	var result [32]byte
	copy(result[:], h.Sum(nil)[:32])
	return result
}
