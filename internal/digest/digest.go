// Package digest computes the content-addressed digest the cache core
// uses to detect whether the current-message slot is dirty relative to
// its last-persisted form.
//
// The original implementation used MD5; spec design notes explicitly
// allow "any content-addressed digest of equivalent strength" as long as
// it is stable across calls within one session. BLAKE2b-256 is used here
// instead, grounded on golang.org/x/crypto already being part of the
// module's dependency stack.
package digest

import "golang.org/x/crypto/blake2b"

// Digest is a fixed-size content digest, comparable with ==.
type Digest [32]byte

// Of returns the digest of b.
func Of(b []byte) Digest {
	return blake2b.Sum256(b)
}

// Zero is the all-zero Digest value. It is not the digest of any input
// Of is given in practice, so a slot whose baseline is Zero always
// compares unequal to its content's digest.
var Zero Digest
