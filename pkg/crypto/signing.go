// Package crypto implements ballot signing for attestor identities.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"

	"github.com/chainspan/go-chainspan/pkg/types"
)

// Ed25519SignatureSize is the size of an attestor ballot signature in bytes.
const Ed25519SignatureSize = ed25519.SignatureSize

// Signer produces and identifies ballot signatures.
type Signer interface {
	Sign(message []byte) []byte
	PublicKey() ed25519.PublicKey
	Address() types.Address
}

// Ed25519Signer implements Signer with an ed25519 keypair.
type Ed25519Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    types.Address
}

// NewEd25519Signer generates a keypair from the given entropy source. A nil
// source falls back to crypto/rand; tests pass a seeded reader to get
// reproducible identities.
func NewEd25519Signer(entropy io.Reader) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(entropy)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate keypair")
	}
	return &Ed25519Signer{
		privateKey: priv,
		publicKey:  pub,
		address:    AddressFromPublicKey(pub),
	}, nil
}

// Sign hashes the message and signs the digest.
func (s *Ed25519Signer) Sign(message []byte) []byte {
	digest := sha256.Sum256(message)
	return ed25519.Sign(s.privateKey, digest[:])
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

func (s *Ed25519Signer) Address() types.Address {
	return s.address
}

// Verify checks a signature produced by Sign against the given public key.
func Verify(pubKey, message, signature []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != Ed25519SignatureSize {
		return false
	}
	digest := sha256.Sum256(message)
	return ed25519.Verify(pubKey, digest[:], signature)
}

// AddressFromPublicKey derives a short address from a public key.
func AddressFromPublicKey(pubKey ed25519.PublicKey) types.Address {
	var addr types.Address
	digest := sha256.Sum256(pubKey)
	copy(addr[:], digest[:20])
	return addr
}
