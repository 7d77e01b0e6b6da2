package idlite

import (
	"testing"
)

var testPhoto = []byte("portrait of the card holder, eight bits per pixel")

func newTestKeySet(t *testing.T, verificationKeys ...VerificationKey) *KeySet {
	t.Helper()

	encryptionKey, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatal(err)
	}

	signatureKey, err := GenerateSecretSignatureKey()
	if err != nil {
		t.Fatal(err)
	}

	keySet, err := NewKeySet(encryptionKey, signatureKey, verificationKeys...)
	if err != nil {
		t.Fatal(err)
	}

	return keySet
}

func newTestReader(t *testing.T, keySet *KeySet, rootCerts []Certificate) *Reader {
	t.Helper()

	reader, err := NewReader(keySet, rootCerts, NewRevokedKeySet())
	if err != nil {
		t.Fatal(err)
	}

	return reader
}

func newTestIdent() *Ident {
	return &Ident{
		GivenName:    "John",
		SurName:      "Doe",
		Pin:          "1234",
		PlaceOfBirth: "Aubusson, France",
		DateOfBirth:  &Date{Year: 1980, Month: 12, Day: 17},
		Photo:        testPhoto,
		PubExtra: []KV{
			{Key: "gender", Value: "male"},
			{Key: "sports", Value: "boxing"},
		},
		PrivExtra: []KV{
			{Key: "blood type", Value: "A"},
			{Key: "sports", Value: "boxing, chess"},
		},
	}
}

func newTestCard(t *testing.T, reader *Reader, chain []Certificate) *Card {
	t.Helper()

	card, err := reader.NewCard(newTestIdent(), chain)
	if err != nil {
		t.Fatal(err)
	}

	return card
}

// newTestChain builds a root certificate plus a child endorsing the
// given signer key, returning the root key, the trusted roots and the
// chain to attach to cards.
func newTestChain(t *testing.T, signerKey [33]byte) (rootKey [32]byte, roots, chain []Certificate) {
	t.Helper()

	rootKey, err := GenerateSecretSignatureKey()
	if err != nil {
		t.Fatal(err)
	}

	rootCert, err := GenerateRootCertificate(rootKey)
	if err != nil {
		t.Fatal(err)
	}

	childCert, err := GenerateChildCertificate(rootKey, signerKey)
	if err != nil {
		t.Fatal(err)
	}

	return rootKey, []Certificate{rootCert}, []Certificate{childCert}
}
