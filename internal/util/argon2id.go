package util

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// PasswordHash is an argon2id-derived verifier for a single credential.
// Passwords are NFKD-normalized before derivation so that the same visual
// input verifies regardless of the client's Unicode composition.
type PasswordHash struct {
	Salt   []byte
	Key    []byte
	Params Argon2idParams
}

// HashPassword derives a verifier for the given password with a fresh
// random salt and the default parameters.
func HashPassword(password string) (PasswordHash, error) {
	salt, err := RandomBytes(16)
	if err != nil {
		return PasswordHash{}, err
	}
	params := DefaultArgon2idParams()
	key, err := DeriveArgon2idKey(password, salt, params)
	if err != nil {
		return PasswordHash{}, err
	}
	return PasswordHash{Salt: salt, Key: key, Params: params}, nil
}

// Verify reports whether password matches the hash. The comparison is
// constant time over the derived key.
func (h PasswordHash) Verify(password string) bool {
	key, err := DeriveArgon2idKey(password, h.Salt, h.Params)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(key, h.Key) == 1
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	normalized := Normalize(passphrase)
	key := argon2.IDKey([]byte(normalized), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}
