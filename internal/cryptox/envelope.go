package cryptox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/agessh"
	"filippo.io/age/armor"
	"golang.org/x/crypto/ssh"
)

var (
	envelopeMagic = []byte("age-encryption.org/")
	armorMagic    = []byte(armor.Header)
)

// EnvelopeSniffLen is how many leading bytes IsEnvelope needs.
const EnvelopeSniffLen = len(armor.Header)

// IsEnvelope reports whether a payload starting with prefix is an age
// envelope (binary or armored).
func IsEnvelope(prefix []byte) bool {
	return bytes.HasPrefix(prefix, envelopeMagic) || bytes.HasPrefix(prefix, armorMagic)
}

// OpenEnvelope returns a reader of the plaintext of an envelope payload.
//
// Header failures (wrong recipient, malformed stream) are returned
// immediately. Authentication failures further into the stream surface as
// read errors; both belong to DecryptionError.
func (k *KeyPair) OpenEnvelope(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	if head, _ := br.Peek(len(armorMagic)); bytes.Equal(head, armorMagic) {
		r = armor.NewReader(br)
	} else {
		r = br
	}

	plain, err := age.Decrypt(r, k.identity)
	if err != nil {
		return nil, DecryptionError.Wrap(err)
	}
	return &envelopeReader{r: plain}, nil
}

type envelopeReader struct {
	r io.Reader
}

func (e *envelopeReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = DecryptionError.Wrap(err)
	}
	return n, err
}

// SealEnvelope returns a writer that encrypts everything written to it for
// the holder of authorizedKey (an ssh-rsa line as served by AuthorizedKey).
// The caller must Close the writer to flush the final chunk.
func SealEnvelope(w io.Writer, authorizedKey string) (io.WriteCloser, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(authorizedKey)))
	if err != nil {
		return nil, fmt.Errorf("parse recipient: %w", err)
	}
	recipient, err := agessh.NewRSARecipient(pub)
	if err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	return age.Encrypt(w, recipient)
}
