// Package seal encrypts record payloads for local tiers that persist to disk.
//
// A Sealer derives a 256-bit key from a passphrase with Argon2id and seals
// payloads with XChaCha20-Poly1305. The storage key is passed as additional
// data so a sealed payload cannot be moved to another key.
package seal
