// Package cryptox owns the proxy's asymmetric key material.
//
// A KeyPair is generated once when the server starts and is shared by every
// request handler for the life of the process. It is never persisted, never
// rotated and never mutated after construction, so it is safe for concurrent
// use without locking.
//
// Two payload formats are accepted:
//   - direct: a single RSA block, bounded by MaxPlaintextSize;
//   - envelope: an age stream whose file key is wrapped for the key pair's
//     ssh-rsa identity (see envelope.go), unbounded in size.
package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"filippo.io/age/agessh"
	"github.com/zeebo/errs"
	"golang.org/x/crypto/ssh"
)

var (
	// KeyError is the class of key generation failures. They are fatal: the
	// process must not start serving without a key pair.
	KeyError = errs.Class("key")

	// DecryptionError is the class of per-request decryption failures.
	DecryptionError = errs.Class("decryption")
)

// MinKeyBits is the smallest modulus GenerateKeyPair accepts.
const MinKeyBits = 1024

// Padding selects the RSA encryption scheme used for direct payloads.
type Padding int

const (
	// OAEP is RSA-OAEP with SHA-256.
	OAEP Padding = iota
	// PKCS1v15 is RSAES-PKCS1-v1_5.
	PKCS1v15
)

func (p Padding) String() string {
	switch p {
	case OAEP:
		return "oaep"
	case PKCS1v15:
		return "pkcs1v15"
	}
	return fmt.Sprintf("padding(%d)", int(p))
}

// ParsePadding maps a config value onto a Padding.
func ParsePadding(s string) (Padding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "oaep":
		return OAEP, nil
	case "pkcs1", "pkcs1v15":
		return PKCS1v15, nil
	}
	return OAEP, fmt.Errorf("unknown padding %q", s)
}

// KeyPair is the process-wide RSA key pair.
type KeyPair struct {
	private       *rsa.PrivateKey
	padding       Padding
	publicKey     string
	authorizedKey string
	identity      *agessh.RSAIdentity
}

// Option customizes a KeyPair.
type Option func(*KeyPair)

// WithPadding sets the padding used by Decrypt and Encrypt.
func WithPadding(p Padding) Option {
	return func(k *KeyPair) {
		k.padding = p
	}
}

// generateKey is a seam for tests.
var generateKey = rsa.GenerateKey

// GenerateKeyPair creates the key pair. Errors belong to KeyError.
func GenerateKeyPair(bits int, opts ...Option) (*KeyPair, error) {
	if bits < MinKeyBits {
		return nil, KeyError.New("key size %d is below the minimum of %d bits", bits, MinKeyBits)
	}

	private, err := generateKey(rand.Reader, bits)
	if err != nil {
		return nil, KeyError.Wrap(err)
	}

	return newKeyPair(private, opts...)
}

func newKeyPair(private *rsa.PrivateKey, opts ...Option) (*KeyPair, error) {
	der, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return nil, KeyError.Wrap(err)
	}

	sshKey, err := ssh.NewPublicKey(&private.PublicKey)
	if err != nil {
		return nil, KeyError.Wrap(err)
	}

	identity, err := agessh.NewRSAIdentity(private)
	if err != nil {
		return nil, KeyError.Wrap(err)
	}

	k := &KeyPair{
		private:       private,
		padding:       OAEP,
		publicKey:     base64.StdEncoding.EncodeToString(der),
		authorizedKey: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshKey))),
		identity:      identity,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// PublicKey returns the base64 (standard alphabet) PKIX DER encoding of the
// public key.
func (k *KeyPair) PublicKey() string {
	return k.publicKey
}

// AuthorizedKey returns the public key as an ssh-rsa authorized_keys line,
// the recipient format for envelope payloads.
func (k *KeyPair) AuthorizedKey() string {
	return k.authorizedKey
}

// Padding reports the padding used for direct payloads.
func (k *KeyPair) Padding() Padding {
	return k.padding
}

// BlockSize is the modulus size in bytes, i.e. the length of one direct
// ciphertext block.
func (k *KeyPair) BlockSize() int {
	return k.private.Size()
}

// MaxPlaintextSize is the largest plaintext that fits in one direct block.
func (k *KeyPair) MaxPlaintextSize() int {
	return maxPlaintext(k.private.Size(), k.padding)
}

// MaxPlaintextFor is MaxPlaintextSize for a bare public key.
func MaxPlaintextFor(pub *rsa.PublicKey, p Padding) int {
	return maxPlaintext(pub.Size(), p)
}

func maxPlaintext(blockSize int, p Padding) int {
	if p == PKCS1v15 {
		return blockSize - 11
	}
	return blockSize - 2*sha256.Size - 2
}

// Decrypt decrypts one direct RSA block with the private key.
//
// Ciphertext longer than one block is rejected rather than truncated;
// callers with larger payloads use the envelope format.
func (k *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	size := k.private.Size()
	switch {
	case len(ciphertext) == 0:
		return nil, DecryptionError.New("empty ciphertext")
	case len(ciphertext) > size:
		return nil, DecryptionError.New("ciphertext is %d bytes, a direct block holds at most %d", len(ciphertext), size)
	}

	var (
		plaintext []byte
		err       error
	)
	switch k.padding {
	case PKCS1v15:
		plaintext, err = rsa.DecryptPKCS1v15(nil, k.private, ciphertext)
	default:
		plaintext, err = rsa.DecryptOAEP(sha256.New(), nil, k.private, ciphertext, nil)
	}
	if err != nil {
		return nil, DecryptionError.Wrap(err)
	}
	return plaintext, nil
}

// Encrypt encrypts plaintext for this key pair as one direct block.
func (k *KeyPair) Encrypt(plaintext []byte) ([]byte, error) {
	return EncryptBlock(&k.private.PublicKey, k.padding, plaintext)
}

// EncryptBlock encrypts plaintext as one direct block for pub.
func EncryptBlock(pub *rsa.PublicKey, p Padding, plaintext []byte) ([]byte, error) {
	if max := maxPlaintext(pub.Size(), p); len(plaintext) > max {
		return nil, fmt.Errorf("plaintext is %d bytes, a direct block holds at most %d", len(plaintext), max)
	}
	return encryptBlock(rand.Reader, pub, p, plaintext)
}

func encryptBlock(random io.Reader, pub *rsa.PublicKey, p Padding, plaintext []byte) ([]byte, error) {
	if p == PKCS1v15 {
		return rsa.EncryptPKCS1v15(random, pub, plaintext)
	}
	return rsa.EncryptOAEP(sha256.New(), random, pub, plaintext, nil)
}

// ParsePublicKey decodes the value served by PublicKey.
func ParsePublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", key)
	}
	return pub, nil
}
