// Package transform seals and opens cache values: compression followed by
// optional AES-GCM encryption with a PBKDF2-derived key.
package transform

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// ErrAuthentication is returned by Open when a sealed value fails
// decryption or authentication (wrong password, corrupted data).
// Callers are expected to treat it as a cache miss.
var ErrAuthentication = errors.New("transform: authentication failed")

const (
	saltLength        = 16
	defaultIterations = 4096
	defaultKeyLength  = 32
)

// Config configures a Pipeline. An empty Password disables encryption;
// values are then stored compressed but in the clear.
type Config struct {
	Codec      string // compression codec name (see NewCompressor)
	Level      int    // compression level, codec-specific
	Password   string // encryption password; empty disables encryption
	KeyLength  int    // AES key length in bytes: 16, 24 or 32 (default 32)
	Iterations int    // PBKDF2 iterations (default 4096)
}

// Sealed is a value as stored in a backend: compressed and, unless the
// pipeline runs without encryption, AES-GCM encrypted. Ciphertext holds
// nonce || GCM output (auth tag included). Salt and the KDF parameters
// are carried alongside so any pipeline with the same password can open it.
type Sealed struct {
	Ciphertext []byte
	Salt       []byte
	Iterations int
	KeyLength  int
	Codec      string
	Plain      bool // true when sealed without encryption
}

// Pipeline composes compression and encryption on seal, and the inverse
// on open. Safe for concurrent use.
type Pipeline struct {
	comp     Compressor
	password []byte
	keyLen   int
	iter     int
}

// New creates a Pipeline from config.
func New(cfg Config) (*Pipeline, error) {
	comp, err := NewCompressor(cfg.Codec, cfg.Level)
	if err != nil {
		return nil, err
	}

	keyLen := cfg.KeyLength
	if keyLen == 0 {
		keyLen = defaultKeyLength
	}
	if keyLen != 16 && keyLen != 24 && keyLen != 32 {
		return nil, fmt.Errorf("invalid key length %d (must be 16, 24 or 32)", keyLen)
	}

	iter := cfg.Iterations
	if iter <= 0 {
		iter = defaultIterations
	}

	return &Pipeline{
		comp:     comp,
		password: []byte(cfg.Password),
		keyLen:   keyLen,
		iter:     iter,
	}, nil
}

// Seal compresses and encrypts plaintext. Each call uses a fresh random
// salt and nonce.
func (p *Pipeline) Seal(plaintext []byte) (Sealed, error) {
	compressed, err := p.comp.Encode(plaintext)
	if err != nil {
		return Sealed{}, fmt.Errorf("compress: %w", err)
	}

	if len(p.password) == 0 {
		return Sealed{Ciphertext: compressed, Codec: p.comp.Name(), Plain: true}, nil
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Sealed{}, fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := p.aead(salt, p.iter, p.keyLen)
	if err != nil {
		return Sealed{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, fmt.Errorf("generate nonce: %w", err)
	}

	return Sealed{
		Ciphertext: gcm.Seal(nonce, nonce, compressed, nil),
		Salt:       salt,
		Iterations: p.iter,
		KeyLength:  p.keyLen,
		Codec:      p.comp.Name(),
		Plain:      false,
	}, nil
}

// Open decrypts and decompresses a sealed value. It honors the KDF
// parameters and codec recorded in the value itself, so entries sealed
// under an older configuration remain readable as long as the password
// matches. Returns ErrAuthentication when decryption fails.
func (p *Pipeline) Open(s Sealed) ([]byte, error) {
	compressed := s.Ciphertext

	if !s.Plain {
		if len(p.password) == 0 {
			return nil, ErrAuthentication
		}
		gcm, err := p.aead(s.Salt, s.Iterations, s.KeyLength)
		if err != nil {
			return nil, err
		}
		nonceSize := gcm.NonceSize()
		if len(s.Ciphertext) < nonceSize {
			return nil, ErrAuthentication
		}
		nonce, ciphertext := s.Ciphertext[:nonceSize], s.Ciphertext[nonceSize:]
		compressed, err = gcm.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return nil, ErrAuthentication
		}
	}

	comp := p.comp
	if s.Codec != comp.Name() {
		c, err := NewCompressor(s.Codec, 0)
		if err != nil {
			return nil, fmt.Errorf("sealed with %w", err)
		}
		comp = c
	}

	plaintext, err := comp.Decode(compressed)
	if err != nil {
		// Corrupted payloads are indistinguishable from tampering.
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// aead builds an AES-GCM cipher from the password and the given KDF
// parameters.
func (p *Pipeline) aead(salt []byte, iter, keyLen int) (cipher.AEAD, error) {
	if iter <= 0 {
		iter = defaultIterations
	}
	if keyLen != 16 && keyLen != 24 && keyLen != 32 {
		keyLen = defaultKeyLength
	}
	key := pbkdf2.Key(p.password, salt, iter, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
