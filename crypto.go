package idlite

import (
	"crypto/sha256"
	"errors"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pinIterations = 4096
	derivedKeyLen = 32
	nonceSize     = chacha20poly1305.NonceSize

	pinWrapInfo    = "idlite/pin-wrap"
	faceWrapInfo   = "idlite/face-wrap"
	blobKeyInfo    = "idlite/card-blob"
	messageKeyInfo = "idlite/card-msg"
)

// signCompact signs a message digest and returns a 64 byte r || s
// signature.
func signCompact(privateKey *secp256k1.PrivateKey, digest [32]byte) ([64]byte, error) {

	var signature [64]byte

	// SignCompact prepends a recovery id byte, which the verifier does
	// not need since the public key always travels with the signature.
	compact, err := ecdsa.SignCompact(privateKey, digest[:], true)
	if err != nil {
		return signature, err
	}

	if len(compact) != 65 {
		return signature, errors.New("unexpected compact signature length")
	}

	copy(signature[:], compact[1:])

	return signature, nil
}

// verifyCompact verifies a 64 byte r || s signature over a message digest.
func verifyCompact(signature [64]byte, digest [32]byte, publicKey *btcec.PublicKey) bool {

	r := new(btcec.ModNScalar)
	r.SetByteSlice(signature[0:32])

	s := new(btcec.ModNScalar)
	s.SetByteSlice(signature[32:64])

	return ecdsa.NewSignature(r, s).Verify(digest[:], publicKey)
}

// generateSharedSecret generates a shared secret based on a private key
// and a public key using Diffie-Hellman key exchange (ECDH) (RFC 5903).
func generateSharedSecret(privateKey *secp256k1.PrivateKey, publicKey *secp256k1.PublicKey) []byte {

	var point, result secp256k1.JacobianPoint
	publicKey.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&privateKey.Key, &point, &result)
	result.ToAffine()
	xBytes := result.X.Bytes()

	y := new(big.Int)
	y.SetBytes(result.Y.Bytes()[:])

	andResult := new(big.Int).And(y, big.NewInt(0x01))
	orResult := new(big.Int).Or(andResult, big.NewInt(0x02))

	even := orResult.Bytes()

	sharedSecret := append(even, xBytes[:]...)

	return sharedSecret
}

// deriveKey expands the input key material into a 32 byte key bound to
// the given salt and context info string.
func deriveKey(secret, salt []byte, info string) ([]byte, error) {

	key := make([]byte, derivedKeyLen)

	reader := hkdf.New(sha256.New, secret, salt, []byte(info))

	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}

	return key, nil
}

// derivePinKey stretches the PIN and mixes it with the ECDH shared
// secret, so a wrong PIN fails the authenticated decryption and a
// correct PIN alone, without the reader's encryption key, is useless.
func derivePinKey(pin string, shared, salt []byte) ([]byte, error) {

	stretched := pbkdf2.Key([]byte(pin), salt, pinIterations, derivedKeyLen, sha256.New)

	return deriveKey(append(shared, stretched...), salt, pinWrapInfo)
}

// deriveFaceKey derives the wrap key released by a successful face match.
func deriveFaceKey(shared, salt []byte) ([]byte, error) {
	return deriveKey(shared, salt, faceWrapInfo)
}

// aeadSeal encrypts plaintext with a fresh random nonce, returning the
// nonce and the ciphertext.
func aeadSeal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, err
	}

	nonce, err = randomBytes(aead.NonceSize())
	if err != nil {
		return nil, nil, err
	}

	return nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

// aeadOpen decrypts and authenticates a ciphertext sealed by aeadSeal.
func aeadOpen(key, nonce, ciphertext []byte) ([]byte, error) {

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	return aead.Open(nil, nonce, ciphertext, nil)
}
