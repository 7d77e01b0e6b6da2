package idlite

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Certificate binds a subject public key as authorized by an issuer key.
// A root certificate is self issued (Subject == Issuer, self signed); a
// child certificate is signed by the issuer's secret key over the
// subject key. Keys are compressed 33 byte points, Signature is a 64
// byte r || s signature.
type Certificate struct {
	Subject   []byte `cbor:"subject"`
	Issuer    []byte `cbor:"issuer"`
	Signature []byte `cbor:"sig"`
}

// GenerateRootCertificate self signs a certificate over the public key
// matching the given secret key, establishing a trust anchor.
func GenerateRootCertificate(secretKey [32]byte) (Certificate, error) {

	publicKey, err := PublicKeyFromSecret(secretKey)
	if err != nil {
		return Certificate{}, err
	}

	return signCertificate(secretKey, publicKey)
}

// GenerateChildCertificate signs the subject public key with the
// issuer's secret key.
func GenerateChildCertificate(issuerSecretKey [32]byte, subjectPublicKey [33]byte) (Certificate, error) {

	if _, err := btcec.ParsePubKey(subjectPublicKey[:]); err != nil {
		return Certificate{}, ErrKey
	}

	return signCertificate(issuerSecretKey, subjectPublicKey)
}

func signCertificate(issuerSecretKey [32]byte, subjectPublicKey [33]byte) (Certificate, error) {

	issuerKey, err := PublicKeyFromSecret(issuerSecretKey)
	if err != nil {
		return Certificate{}, err
	}

	certificate := Certificate{
		Subject: subjectPublicKey[:],
		Issuer:  issuerKey[:],
	}

	privateKey := secp256k1.PrivKeyFromBytes(issuerSecretKey[:])

	signature, err := signCompact(privateKey, certificate.digest())
	if err != nil {
		return Certificate{}, err
	}

	certificate.Signature = signature[:]

	slog.Debug("Signed certificate",
		"Subject", keyFingerprint(certificate.Subject),
		"Issuer", keyFingerprint(certificate.Issuer))

	return certificate, nil
}

// IsRoot reports whether the certificate is self issued.
func (certificate *Certificate) IsRoot() bool {
	return string(certificate.Subject) == string(certificate.Issuer)
}

func (certificate *Certificate) check() error {

	if len(certificate.Subject) != 33 {
		return fmt.Errorf("bad subject key length %d", len(certificate.Subject))
	}
	if len(certificate.Issuer) != 33 {
		return fmt.Errorf("bad issuer key length %d", len(certificate.Issuer))
	}
	if len(certificate.Signature) != 64 {
		return fmt.Errorf("bad signature length %d", len(certificate.Signature))
	}

	return nil
}

func (certificate *Certificate) digest() [32]byte {

	message := append([]byte(certDomain), certificate.Subject...)
	message = append(message, certificate.Issuer...)

	return sha256.Sum256(message)
}

// verify checks the certificate signature under its issuer key.
func (certificate *Certificate) verify() bool {

	if certificate.check() != nil {
		return false
	}

	issuerKey, err := btcec.ParsePubKey(certificate.Issuer)
	if err != nil {
		return false
	}

	var signature [64]byte
	copy(signature[:], certificate.Signature)

	return verifyCompact(signature, certificate.digest(), issuerKey)
}

// RevokedKeySet is an append only set of revoked public keys, shared by
// every reader in the process. Insertion is permanent; reads and inserts
// are safe under concurrent use by multiple readers.
type RevokedKeySet struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewRevokedKeySet creates an empty revoked key set. It is meant to be
// created once at process start and handed to every reader.
func NewRevokedKeySet() *RevokedKeySet {
	return &RevokedKeySet{keys: make(map[string]struct{})}
}

// Add revokes a public key. There is no removal; revocation lasts for
// the process lifetime.
func (set *RevokedKeySet) Add(publicKey []byte) {

	fingerprint := keyFingerprint(publicKey)

	set.mu.Lock()
	set.keys[fingerprint] = struct{}{}
	set.mu.Unlock()

	slog.Debug("Revoked key", "Fingerprint", fingerprint)
}

// Contains reports whether a public key has been revoked.
func (set *RevokedKeySet) Contains(publicKey []byte) bool {

	if set == nil {
		return false
	}

	set.mu.RLock()
	defer set.mu.RUnlock()

	_, ok := set.keys[keyFingerprint(publicKey)]
	return ok
}

// validateChain walks an ordered certificate chain from its trust anchor
// down to the leaf and checks that the leaf endorses targetKey.
//
// An empty chain succeeds only when targetKey is directly trusted by the
// reader; this is the deliberate fallback for deployments without a PKI.
// On success the number of validated certificates is returned, zero
// meaning trusted directly without a chain.
func validateChain(chain []Certificate, trustedRoots map[string]bool, revoked *RevokedKeySet, targetKey []byte, directlyTrusted func([]byte) bool) (int, error) {

	if len(chain) == 0 {
		if directlyTrusted != nil && directlyTrusted(targetKey) {
			return 0, nil
		}
		return 0, &TrustError{Kind: TargetMismatch}
	}

	for i, certificate := range chain {

		if revoked.Contains(certificate.Subject) || revoked.Contains(certificate.Issuer) {
			return 0, &TrustError{Kind: Revoked}
		}

		if i == 0 {
			// The chain must be anchored: the first certificate is
			// either a trusted root itself or issued by one.
			if !trustedRoots[string(certificate.Issuer)] {
				return 0, &TrustError{Kind: BrokenLink}
			}
		} else if string(certificate.Issuer) != string(chain[i-1].Subject) {
			return 0, &TrustError{Kind: BrokenLink}
		}

		if !certificate.verify() {
			return 0, &TrustError{Kind: BrokenLink}
		}
	}

	leaf := chain[len(chain)-1]

	if string(leaf.Subject) != string(targetKey) {
		return 0, &TrustError{Kind: TargetMismatch}
	}

	return len(chain), nil
}
