package seal

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength         = 16
	minPassBytes          = 10

	formatV1 byte = 1
)

var (
	// ErrMalformed is returned when a sealed payload is truncated or carries
	// an unknown format byte.
	ErrMalformed = errors.New("malformed sealed payload")
	// ErrAuthentication is returned when a payload fails authentication.
	ErrAuthentication = errors.New("sealed payload failed authentication")
)

// Config holds the Argon2id cost parameters used to derive the sealing key.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// DefaultConfig returns interactive-strength Argon2id parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        1,
		Parallelism: 4,
	}
}

// Sealer seals and opens payloads with a key derived once at construction.
// It is safe for concurrent use.
type Sealer struct {
	key []byte
}

// New derives the sealing key from passphrase and salt. The same passphrase,
// salt and config must be supplied on every start to read existing payloads.
func New(passphrase, salt []byte, cfg Config) (*Sealer, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if len(passphrase) < minPassBytes {
		return nil, fmt.Errorf("passphrase must be at least %d bytes", minPassBytes)
	}
	if len(salt) < minSaltLength {
		return nil, fmt.Errorf("salt must be at least %d bytes", minSaltLength)
	}

	key := argon2.IDKey(passphrase, salt, cfg.Time, cfg.Memory, cfg.Parallelism, chacha20poly1305.KeySize)
	return &Sealer{key: key}, nil
}

// NewSalt returns a random salt suitable for New.
func NewSalt() ([]byte, error) {
	salt := make([]byte, minSaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// Seal encrypts plaintext bound to additionalData. The output layout is
// format byte, nonce, ciphertext.
func (s *Sealer) Seal(plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = formatV1
	if _, err := io.ReadFull(rand.Reader, out[1:]); err != nil {
		return nil, err
	}
	return aead.Seal(out, out[1:], plaintext, additionalData), nil
}

// Open reverses Seal. additionalData must match the value used to seal.
func (s *Sealer) Open(sealed, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < 1+aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformed
	}
	if sealed[0] != formatV1 {
		return nil, fmt.Errorf("%w: format %d", ErrMalformed, sealed[0])
	}

	nonce := sealed[1 : 1+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, sealed[1+aead.NonceSize():], additionalData)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("argon2 memory too low")
	}
	if cfg.Time < minTimeCost {
		return errors.New("argon2 time cost too low")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("argon2 parallelism too low")
	}
	return nil
}
