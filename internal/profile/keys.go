package profile

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/skobkin/meshola/internal/domain"
)

// KeyGenerator produces the identity key pair for a new profile.
type KeyGenerator interface {
	Generate() (domain.PublicKey, [PrivateKeySize]byte, error)
}

// RandomKeys fills both keys with unrelated random bytes.
type RandomKeys struct{}

func (RandomKeys) Generate() (domain.PublicKey, [PrivateKeySize]byte, error) {
	var (
		pub  domain.PublicKey
		priv [PrivateKeySize]byte
	)
	if _, err := rand.Read(pub[:]); err != nil {
		return pub, priv, fmt.Errorf("generate public key: %w", err)
	}
	if _, err := rand.Read(priv[:]); err != nil {
		return pub, priv, fmt.Errorf("generate private key: %w", err)
	}

	return pub, priv, nil
}

// Ed25519Keys derives the public key from a random private seed.
type Ed25519Keys struct{}

func (Ed25519Keys) Generate() (domain.PublicKey, [PrivateKeySize]byte, error) {
	var (
		pub  domain.PublicKey
		priv [PrivateKeySize]byte
	)
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return pub, priv, fmt.Errorf("generate ed25519 key: %w", err)
	}
	copy(pub[:], edPub)
	copy(priv[:], edPriv)

	return pub, priv, nil
}
