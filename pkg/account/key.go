package account

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// Key is the identity of a test account. The key material is opaque to the
// exerciser and only handed to the transaction builder.
type Key struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// NewRandomKey generates a new random key pair
func NewRandomKey() (*Key, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "error generating key pair")
	}

	return &Key{
		Public:  public,
		Private: private,
	}, nil
}

// NewKeyFromSeed derives a key pair from a seed. Seeds of any length are
// accepted and hashed down to the ed25519 seed size, so a stable name (eg.
// "test-client-account-7") always yields the same account.
func NewKeyFromSeed(seed []byte) *Key {
	hashed := sha256.Sum256(seed)
	private := ed25519.NewKeyFromSeed(hashed[:])
	return &Key{
		Public:  private.Public().(ed25519.PublicKey),
		Private: private,
	}
}

// NewKeyFromPrivateKey decodes a base58 encoded private key
func NewKeyFromPrivateKey(encoded string) (*Key, error) {
	decoded, err := base58.Decode(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base58 private key")
	}

	if len(decoded) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("invalid private key length %d", len(decoded))
	}

	private := ed25519.PrivateKey(decoded)
	return &Key{
		Public:  private.Public().(ed25519.PublicKey),
		Private: private,
	}, nil
}

// Address returns the base58 encoded public key
func (k *Key) Address() string {
	return base58.Encode(k.Public)
}

// PrivateKeyString returns the base58 encoded private key
func (k *Key) PrivateKeyString() string {
	return base58.Encode(k.Private)
}

// Sign signs the message with the private key
func (k *Key) Sign(message []byte) []byte {
	return ed25519.Sign(k.Private, message)
}

// Verify verifies a signature for the given public address
func Verify(address string, message, signature []byte) bool {
	public, err := base58.Decode(address)
	if err != nil || len(public) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(public, message, signature)
}
