package idlite

import (
	"errors"
	"testing"
)

func TestOpenWithDirectTrustFallback(t *testing.T) {

	keySet := newTestKeySet(t)
	reader := newTestReader(t, keySet, nil)

	// No certificate chain: the issuing reader trusts its own key.
	card := newTestCard(t, reader, nil)

	opened, err := reader.Open(card.AsBytes(), false)
	if err != nil {
		t.Fatal(err)
	}
	if !opened.VerifyCertificate() {
		t.Fatal("card not trusted by its issuer")
	}
	if opened.HasCertificate() {
		t.Fatal("chainless card reports a certificate")
	}

	// A second reader that has not enrolled the signer key rejects it.
	reader2 := newTestReader(t, newTestKeySet(t), nil)

	if _, err := reader2.Open(card.AsBytes(), false); !errors.Is(err, ErrUntrusted) {
		t.Fatalf("expected ErrUntrusted, got %v", err)
	}

	// Enrolling the signer as a verification key makes the card open.
	reader3 := newTestReader(t, newTestKeySet(t, VerificationKey{
		Type: SignatureVerificationKey,
		Key:  keySet.SignaturePublicKey(),
	}), nil)

	if _, err := reader3.Open(card.AsBytes(), false); err != nil {
		t.Fatalf("directly enrolled key rejected: %v", err)
	}
}

func TestOpenUntrustedIsExplicit(t *testing.T) {

	issuer := newTestReader(t, newTestKeySet(t), nil)
	card := newTestCard(t, issuer, nil)

	// The stranger shares no keys with the issuer.
	stranger := newTestReader(t, newTestKeySet(t), nil)

	if _, err := stranger.Open(card.AsBytes(), false); !errors.Is(err, ErrUntrusted) {
		t.Fatalf("expected ErrUntrusted, got %v", err)
	}

	// With allowUntrusted the card is produced for inspection, but its
	// certificate verification reports the failure.
	inspected, err := stranger.Open(card.AsBytes(), true)
	if err != nil {
		t.Fatal(err)
	}

	if inspected.VerifyCertificate() {
		t.Fatal("untrusted card verified its certificate")
	}

	// Public extras are still inspectable.
	if inspected.GetCardExtras()["gender"] != "male" {
		t.Fatal("declared contents not inspectable")
	}
}

func TestUntrustedOpenStillAuthenticates(t *testing.T) {

	encryptionKey, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatal(err)
	}

	signatureKeyA, err := GenerateSecretSignatureKey()
	if err != nil {
		t.Fatal(err)
	}

	signatureKeyB, err := GenerateSecretSignatureKey()
	if err != nil {
		t.Fatal(err)
	}

	keySetA, err := NewKeySet(encryptionKey, signatureKeyA)
	if err != nil {
		t.Fatal(err)
	}

	// Reader B shares the encryption key but does not trust A's signer.
	keySetB, err := NewKeySet(encryptionKey, signatureKeyB)
	if err != nil {
		t.Fatal(err)
	}

	readerA := newTestReader(t, keySetA, nil)
	card := newTestCard(t, readerA, nil)

	readerB := newTestReader(t, keySetB, nil)

	inspected, err := readerB.Open(card.AsBytes(), true)
	if err != nil {
		t.Fatal(err)
	}
	if inspected.VerifyCertificate() {
		t.Fatal("untrusted chain verified")
	}

	// Signature trust and disclosure are deliberately decoupled: the
	// PIN still releases the private block.
	if err := inspected.AuthenticateWithPIN("1234"); err != nil {
		t.Fatal(err)
	}
	if inspected.GetGivenName() != "John" {
		t.Fatal("private details missing after untrusted authentication")
	}
}

func TestCrossReaderInteroperability(t *testing.T) {

	encryptionKey, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatal(err)
	}

	signatureKeyA, err := GenerateSecretSignatureKey()
	if err != nil {
		t.Fatal(err)
	}

	signatureKeyB, err := GenerateSecretSignatureKey()
	if err != nil {
		t.Fatal(err)
	}

	keySetA, err := NewKeySet(encryptionKey, signatureKeyA)
	if err != nil {
		t.Fatal(err)
	}

	keySetB, err := NewKeySet(encryptionKey, signatureKeyB)
	if err != nil {
		t.Fatal(err)
	}

	_, roots, chain := newTestChain(t, keySetA.SignaturePublicKey())

	revoked := NewRevokedKeySet()

	readerA, err := NewReader(keySetA, roots, revoked)
	if err != nil {
		t.Fatal(err)
	}

	card := newTestCard(t, readerA, chain)

	// Reader B holds the same roots but its own signature key.
	readerB, err := NewReader(keySetB, roots, revoked)
	if err != nil {
		t.Fatal(err)
	}

	opened, err := readerB.Open(card.AsBytes(), false)
	if err != nil {
		t.Fatal(err)
	}

	if !opened.VerifyCertificate() {
		t.Fatal("chain anchored in shared roots did not verify")
	}
	if !opened.VerifyCardSignature() {
		t.Fatal("card signature did not verify")
	}

	if err := opened.AuthenticateWithPIN("1234"); err != nil {
		t.Fatal(err)
	}
	if opened.GetSurname() != "Doe" {
		t.Fatal("cross reader authentication incomplete")
	}
}

func TestOpenRejectsRevokedSigner(t *testing.T) {

	keySet := newTestKeySet(t)

	_, roots, chain := newTestChain(t, keySet.SignaturePublicKey())

	revoked := NewRevokedKeySet()

	reader, err := NewReader(keySet, roots, revoked)
	if err != nil {
		t.Fatal(err)
	}

	card := newTestCard(t, reader, chain)

	if _, err := reader.Open(card.AsBytes(), false); err != nil {
		t.Fatal(err)
	}

	// Revoking the signer after issuance rejects the card on the next
	// open.
	signerKey := keySet.SignaturePublicKey()
	revoked.Add(signerKey[:])

	_, err = reader.Open(card.AsBytes(), false)

	var trustErr *TrustError
	if !errors.As(err, &trustErr) || trustErr.Kind != Revoked {
		t.Fatalf("expected Revoked, got %v", err)
	}
}

func TestAddIntermediateCertificates(t *testing.T) {

	keySet := newTestKeySet(t)

	rootKey, err := GenerateSecretSignatureKey()
	if err != nil {
		t.Fatal(err)
	}

	rootCert, err := GenerateRootCertificate(rootKey)
	if err != nil {
		t.Fatal(err)
	}

	intermediateKey, err := GenerateSecretSignatureKey()
	if err != nil {
		t.Fatal(err)
	}

	intermediatePub, err := PublicKeyFromSecret(intermediateKey)
	if err != nil {
		t.Fatal(err)
	}

	intermediateCert, err := GenerateChildCertificate(rootKey, intermediatePub)
	if err != nil {
		t.Fatal(err)
	}

	leafCert, err := GenerateChildCertificate(intermediateKey, keySet.SignaturePublicKey())
	if err != nil {
		t.Fatal(err)
	}

	revoked := NewRevokedKeySet()

	reader, err := NewReader(keySet, []Certificate{rootCert}, revoked)
	if err != nil {
		t.Fatal(err)
	}

	if !reader.AddIntermediateCertificates([]Certificate{intermediateCert}) {
		t.Fatal("valid intermediates rejected")
	}

	// A card carrying only the leaf certificate is completed by the
	// cached intermediates.
	card := newTestCard(t, reader, []Certificate{leafCert})

	opened, err := reader.Open(card.AsBytes(), false)
	if err != nil {
		t.Fatal(err)
	}
	if !opened.VerifyCertificate() {
		t.Fatal("cached intermediates did not complete the chain")
	}

	// Revoking the intermediate makes later enrollments fail.
	revoked.Add(intermediatePub[:])

	if reader.AddIntermediateCertificates([]Certificate{intermediateCert}) {
		t.Fatal("revoked intermediates accepted")
	}
}

func TestConfigurationMutators(t *testing.T) {

	reader := newTestReader(t, newTestKeySet(t), nil)

	if got := reader.GetFaceDiffThreshold(); got != DefaultFaceDiffThreshold {
		t.Fatalf("default threshold = %v, want %v", got, DefaultFaceDiffThreshold)
	}

	reader.SetFaceDiffThreshold(0.1)

	if got := reader.GetFaceDiffThreshold(); got != 0.1 {
		t.Fatalf("threshold = %v, want 0.1", got)
	}

	// The mask applies to cards issued afterwards only.
	before := newTestCard(t, reader, nil)

	reader.SetDetailsVisible(DetailGivenName)

	after := newTestCard(t, reader, nil)

	if before.GetGivenName() != "" {
		t.Fatal("mask changed an already issued card")
	}
	if after.GetGivenName() != "John" {
		t.Fatal("mask not applied to a new card")
	}
}

func TestNewReaderRejectsBadRoots(t *testing.T) {

	keySet := newTestKeySet(t)

	rootKey, err := GenerateSecretSignatureKey()
	if err != nil {
		t.Fatal(err)
	}

	rootCert, err := GenerateRootCertificate(rootKey)
	if err != nil {
		t.Fatal(err)
	}

	// A non-root certificate cannot serve as a trust anchor.
	childCert, err := GenerateChildCertificate(rootKey, keySet.SignaturePublicKey())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewReader(keySet, []Certificate{childCert}, nil); !errors.Is(err, ErrKey) {
		t.Fatalf("expected ErrKey, got %v", err)
	}

	// A tampered root does not verify.
	rootCert.Signature[3] ^= 0x20

	if _, err := NewReader(keySet, []Certificate{rootCert}, nil); !errors.Is(err, ErrKey) {
		t.Fatalf("expected ErrKey, got %v", err)
	}
}
