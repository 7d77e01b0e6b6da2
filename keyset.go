package idlite

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// VerificationKeyType tags the kind of an enrolled verification key.
type VerificationKeyType int

const (
	// SignatureVerificationKey marks a public key trusted to verify card
	// signatures directly, without a certificate chain.
	SignatureVerificationKey VerificationKeyType = iota
)

// VerificationKey is a public key a reader trusts directly.
type VerificationKey struct {
	Type VerificationKeyType
	Key  [33]byte
}

// KeySet is a reader's cryptographic identity: one encryption key pair,
// one signature key pair and any number of additional trusted
// verification keys. A KeySet is immutable once constructed.
type KeySet struct {
	encryptionKey    *secp256k1.PrivateKey
	signatureKey     *secp256k1.PrivateKey
	verificationKeys []VerificationKey
}

// NewKeySet builds a KeySet from raw 32 byte secret keys, as produced by
// GenerateEncryptionKey and GenerateSecretSignatureKey. The reader's own
// signature public key is always trusted for verification; additional
// verification keys may be enrolled on top of it.
func NewKeySet(encryptionKey, signatureKey [32]byte, verificationKeys ...VerificationKey) (*KeySet, error) {

	encPriv := secp256k1.PrivKeyFromBytes(encryptionKey[:])
	if encPriv.Key.IsZero() {
		return nil, ErrKey
	}

	sigPriv := secp256k1.PrivKeyFromBytes(signatureKey[:])
	if sigPriv.Key.IsZero() {
		return nil, ErrKey
	}

	for _, vk := range verificationKeys {
		if _, err := btcec.ParsePubKey(vk.Key[:]); err != nil {
			return nil, ErrKey
		}
	}

	return &KeySet{
		encryptionKey:    encPriv,
		signatureKey:     sigPriv,
		verificationKeys: verificationKeys,
	}, nil
}

// GenerateEncryptionKey creates a fresh secret encryption key.
func GenerateEncryptionKey() ([32]byte, error) {
	return generateSecretKey()
}

// GenerateSecretSignatureKey creates a fresh secret signature key.
func GenerateSecretSignatureKey() ([32]byte, error) {
	return generateSecretKey()
}

func generateSecretKey() ([32]byte, error) {

	var key [32]byte

	privateKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return key, err
	}

	copy(key[:], privateKey.Serialize())

	return key, nil
}

// SignaturePublicKey returns the compressed public key matching the
// keyset's signature key. Cards issued with this keyset are signed by it.
func (keySet *KeySet) SignaturePublicKey() [33]byte {

	var publicKey [33]byte
	copy(publicKey[:], keySet.signatureKey.PubKey().SerializeCompressed())

	return publicKey
}

// EncryptionPublicKey returns the compressed public key matching the
// keyset's encryption key.
func (keySet *KeySet) EncryptionPublicKey() [33]byte {

	var publicKey [33]byte
	copy(publicKey[:], keySet.encryptionKey.PubKey().SerializeCompressed())

	return publicKey
}

// isDirectlyTrusted reports whether the given compressed public key is
// either the keyset's own signature key or an enrolled verification key.
func (keySet *KeySet) isDirectlyTrusted(publicKey [33]byte) bool {

	if publicKey == keySet.SignaturePublicKey() {
		return true
	}

	for _, vk := range keySet.verificationKeys {
		if vk.Type == SignatureVerificationKey && vk.Key == publicKey {
			return true
		}
	}

	return false
}

// isDirectlyTrusted33 is the []byte form of isDirectlyTrusted, used by
// chain validation on wire decoded keys.
func (keySet *KeySet) isDirectlyTrusted33(publicKey []byte) bool {

	if len(publicKey) != 33 {
		return false
	}

	var key [33]byte
	copy(key[:], publicKey)

	return keySet.isDirectlyTrusted(key)
}

// PublicKeyFromSecret derives the compressed public key for a 32 byte
// secret key.
func PublicKeyFromSecret(secretKey [32]byte) ([33]byte, error) {

	var publicKey [33]byte

	privateKey := secp256k1.PrivKeyFromBytes(secretKey[:])
	if privateKey.Key.IsZero() {
		return publicKey, ErrKey
	}

	copy(publicKey[:], privateKey.PubKey().SerializeCompressed())

	return publicKey, nil
}

// keyFingerprint shortens a public key to its Hash160 for the revoked key
// set and for log output.
func keyFingerprint(publicKey []byte) string {
	return hex.EncodeToString(btcutil.Hash160(publicKey))
}

func randomBytes(n int) ([]byte, error) {

	buf := make([]byte, n)

	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}

	return buf, nil
}
