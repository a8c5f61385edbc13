package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey is a secp256k1 signing key for an operator or buyer wallet.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// PublicKey is the verifying half of a PrivateKey.
type PublicKey struct {
	*ecdsa.PublicKey
}

// GeneratePrivateKey draws a fresh secp256k1 key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{PrivateKey: key}, nil
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{PublicKey: &k.PrivateKey.PublicKey}
}

// Identity is the raw identity requests signed by k recover to.
func (k *PrivateKey) Identity() [20]byte {
	return k.PubKey().Identity()
}

func (k *PublicKey) Identity() [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.PubkeyToAddress(*k.PublicKey).Bytes())
	return out
}

// Address renders the key's identity with the wallet prefix.
func (k *PublicKey) Address() Address {
	return FromRaw(k.Identity())
}
