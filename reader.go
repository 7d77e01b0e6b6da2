package idlite

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Reader issues new cards and opens existing ones. It holds the trust
// configuration: a key set, the trusted root certificates, a shared
// revoked key set, the disclosure mask applied at issuance and the face
// difference threshold applied at authentication.
//
// A reader is a single owner object; share the RevokedKeySet between
// readers, not the reader itself.
type Reader struct {
	keySet        *KeySet
	rootCerts     []Certificate
	trustedRoots  map[string]bool
	intermediates []Certificate
	revoked       *RevokedKeySet

	visibleFields     FieldFlag
	faceDiffThreshold float64
	comparator        FaceComparator
}

// NewReader builds a reader from a key set and an optional set of
// trusted root certificates. Root certificates must be self signed and
// verify, otherwise ErrKey is returned. The revoked set may be nil when
// revocation is not used.
func NewReader(keySet *KeySet, rootCerts []Certificate, revoked *RevokedKeySet) (*Reader, error) {

	if keySet == nil {
		return nil, ErrKey
	}

	trustedRoots := make(map[string]bool, len(rootCerts))

	for _, root := range rootCerts {
		if !root.IsRoot() || !root.verify() {
			return nil, fmt.Errorf("%w: root certificate does not verify", ErrKey)
		}
		trustedRoots[string(root.Subject)] = true
	}

	return &Reader{
		keySet:            keySet,
		rootCerts:         rootCerts,
		trustedRoots:      trustedRoots,
		revoked:           revoked,
		faceDiffThreshold: DefaultFaceDiffThreshold,
		comparator:        DigestComparator{},
	}, nil
}

// SetDetailsVisible selects which identity fields are placed in the
// public block of cards issued afterwards. Cards already issued are not
// affected.
func (reader *Reader) SetDetailsVisible(mask FieldFlag) {
	reader.visibleFields = mask
}

// SetFaceDiffThreshold tunes the face comparison cutoff used by
// subsequent authentications.
func (reader *Reader) SetFaceDiffThreshold(threshold float64) {
	reader.faceDiffThreshold = threshold
}

// GetFaceDiffThreshold returns the current face comparison cutoff.
func (reader *Reader) GetFaceDiffThreshold() float64 {
	return reader.faceDiffThreshold
}

// SetFaceComparator replaces the biometric comparator consulted during
// issuance and face authentication.
func (reader *Reader) SetFaceComparator(comparator FaceComparator) {
	if comparator != nil {
		reader.comparator = comparator
	}
}

// AddIntermediateCertificates validates a chain of intermediate
// certificates against the reader's trusted roots and caches it for
// completing card chains at open time. It reports false when the chain
// does not validate, for example when one of its keys has been revoked.
func (reader *Reader) AddIntermediateCertificates(certs []Certificate) bool {

	if len(certs) == 0 {
		return false
	}

	target := certs[len(certs)-1].Subject

	if _, err := validateChain(certs, reader.trustedRoots, reader.revoked, target, nil); err != nil {
		slog.Debug("Rejected intermediate certificates", "Error", err)
		return false
	}

	reader.intermediates = append(reader.intermediates, certs...)

	return true
}

// NewCard issues a card for the given identity. The disclosure mask
// decides which fields become publicly visible; everything else, along
// with a fresh card key pair, goes into the encrypted private block.
// The certificate chain, if supplied, is attached as-is: its leaf must
// endorse this reader's signature key, which any opening reader checks.
func (reader *Reader) NewCard(ident *Ident, chain []Certificate) (*Card, error) {

	if ident == nil {
		return nil, fmt.Errorf("%w: missing identity", ErrInvalidCard)
	}

	var template []byte

	if len(ident.Photo) > 0 {
		var err error
		template, err = reader.comparator.ExtractTemplate(ident.Photo, false)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
		}
	}

	publicDetails, privateDetails := splitDetails(ident, reader.visibleFields)

	signerKey := reader.keySet.SignaturePublicKey()

	public := publicCard{
		Details:   publicDetails,
		Template:  template,
		CreatedAt: time.Now().Unix(),
		SignerKey: signerKey[:],
	}

	message, err := public.signedBytes()
	if err != nil {
		return nil, err
	}

	signature, err := signCompact(reader.keySet.signatureKey, sha256Sum(message))
	if err != nil {
		return nil, err
	}
	public.Signature = signature[:]

	encrypted, err := reader.sealPrivateCard(privateDetails, ident.Pin)
	if err != nil {
		return nil, err
	}

	envelope := &cardEnvelope{
		PublicCard:    public,
		EncryptedCard: *encrypted,
		Certificates:  chain,
	}

	raw, err := envelope.encode()
	if err != nil {
		return nil, err
	}

	slog.Debug("Issued card",
		"Signer", keyFingerprint(public.SignerKey),
		"Certificates", len(chain),
		"Bytes", len(raw))

	return newCardObject(reader, envelope, raw), nil
}

// sealPrivateCard encrypts the private detail block. A fresh content
// key seals the block; the content key is wrapped once under the PIN
// derived key and once under the face path key, both bound to an ECDH
// secret between a per-card ephemeral key and the reader's encryption
// key.
func (reader *Reader) sealPrivateCard(details Details, pin string) (*encryptedCard, error) {

	cardSecret, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	private := privateCard{
		Details: details,
		CardKey: cardSecret.Serialize(),
	}

	plaintext, err := encMode.Marshal(&private)
	if err != nil {
		return nil, err
	}

	ephemeral, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	shared := generateSharedSecret(ephemeral, reader.keySet.encryptionKey.PubKey())

	salt, err := randomBytes(16)
	if err != nil {
		return nil, err
	}

	contentKey, err := randomBytes(derivedKeyLen)
	if err != nil {
		return nil, err
	}

	pinKey, err := derivePinKey(pin, shared, salt)
	if err != nil {
		return nil, err
	}

	pinNonce, pinWrap, err := aeadSeal(pinKey, contentKey)
	if err != nil {
		return nil, err
	}

	faceKey, err := deriveFaceKey(shared, salt)
	if err != nil {
		return nil, err
	}

	faceNonce, faceWrap, err := aeadSeal(faceKey, contentKey)
	if err != nil {
		return nil, err
	}

	blobKey, err := deriveKey(contentKey, salt, blobKeyInfo)
	if err != nil {
		return nil, err
	}

	blobNonce, blob, err := aeadSeal(blobKey, plaintext)
	if err != nil {
		return nil, err
	}

	return &encryptedCard{
		EphemeralKey: ephemeral.PubKey().SerializeCompressed(),
		Salt:         salt,
		PinNonce:     pinNonce,
		PinWrap:      pinWrap,
		FaceNonce:    faceNonce,
		FaceWrap:     faceWrap,
		BlobNonce:    blobNonce,
		Blob:         blob,
	}, nil
}

// Open parses card bytes and validates the card's certificate chain
// against the reader's trust configuration. With allowUntrusted false a
// chain failure rejects the card with an error matching ErrUntrusted.
// With allowUntrusted true the card is produced anyway so its declared
// contents can be inspected, but VerifyCertificate reports false.
func (reader *Reader) Open(cardBytes []byte, allowUntrusted bool) (*Card, error) {

	envelope, err := decodeEnvelope(cardBytes)
	if err != nil {
		return nil, err
	}

	if err := reader.verifyEnvelopeTrust(envelope); err != nil {

		slog.Debug("Card failed trust validation", "Error", err)

		if !allowUntrusted {
			return nil, err
		}
	}

	raw := make([]byte, len(cardBytes))
	copy(raw, cardBytes)

	return newCardObject(reader, envelope, raw), nil
}

// verifyEnvelopeTrust runs chain validation for a card and checks the
// public block signature under the anchored signer key.
func (reader *Reader) verifyEnvelopeTrust(envelope *cardEnvelope) error {

	if _, err := reader.validateCardChain(envelope); err != nil {
		return err
	}

	if !reader.verifySignedPublicCard(&envelope.PublicCard) {
		return &TrustError{Kind: BrokenLink}
	}

	return nil
}

// validateCardChain anchors the card's embedded chain in the reader's
// trusted roots, retrying with the cached intermediates prepended when
// the embedded chain alone is not anchored.
func (reader *Reader) validateCardChain(envelope *cardEnvelope) (int, error) {

	target := envelope.PublicCard.SignerKey

	count, err := validateChain(envelope.Certificates, reader.trustedRoots, reader.revoked, target, reader.keySet.isDirectlyTrusted33)

	if err != nil && len(reader.intermediates) > 0 && len(envelope.Certificates) > 0 {

		combined := make([]Certificate, 0, len(reader.intermediates)+len(envelope.Certificates))
		combined = append(combined, reader.intermediates...)
		combined = append(combined, envelope.Certificates...)

		if n, retryErr := validateChain(combined, reader.trustedRoots, reader.revoked, target, nil); retryErr == nil {
			return n, nil
		}
	}

	return count, err
}

// verifySignedPublicCard is the pure signature check of the public
// block, independent of chain trust.
func (reader *Reader) verifySignedPublicCard(card *publicCard) bool {

	message, err := card.signedBytes()
	if err != nil {
		return false
	}

	signerKey, err := btcec.ParsePubKey(card.SignerKey)
	if err != nil {
		return false
	}

	var signature [64]byte
	copy(signature[:], card.Signature)

	return verifyCompact(signature, sha256Sum(message), signerKey)
}

// VerifyCardSignature checks the public block signature of a card. It
// returns false rather than an error so callers can probe without
// error driven control flow.
func (reader *Reader) VerifyCardSignature(card *Card) bool {

	if card == nil {
		return false
	}

	return reader.verifySignedPublicCard(&card.envelope.PublicCard)
}
