package crypto

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	require := require.New(t)
	signer, err := NewEd25519Signer(rand.New(rand.NewSource(42)))
	require.NoError(err)

	msg := []byte("attestation payload")
	sig := signer.Sign(msg)
	require.Len(sig, Ed25519SignatureSize)
	require.True(Verify(signer.PublicKey(), msg, sig))

	require.False(Verify(signer.PublicKey(), []byte("tampered"), sig))
	sig[0] ^= 0xff
	require.False(Verify(signer.PublicKey(), msg, sig))
	require.False(Verify(nil, msg, sig))
	require.False(Verify(signer.PublicKey(), msg, sig[:10]))
}

func TestSeededIdentitiesAreReproducible(t *testing.T) {
	require := require.New(t)
	a, err := NewEd25519Signer(rand.New(rand.NewSource(7)))
	require.NoError(err)
	b, err := NewEd25519Signer(rand.New(rand.NewSource(7)))
	require.NoError(err)
	c, err := NewEd25519Signer(rand.New(rand.NewSource(8)))
	require.NoError(err)

	require.Equal(a.PublicKey(), b.PublicKey())
	require.Equal(a.Address(), b.Address())
	require.NotEqual(a.Address(), c.Address())
	require.NotEqual(a.Address(), AddressFromPublicKey(c.PublicKey()))
}
