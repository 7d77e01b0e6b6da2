package idlite

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Card is the runtime object for one opened or freshly issued card. It
// starts unauthenticated; proving possession of the PIN or a matching
// face decrypts the private block and transitions it to authenticated
// for the rest of its lifetime. Authentication never mutates the
// underlying card bytes, and re-opening those bytes always yields a
// fresh unauthenticated instance.
//
// A Card is a single owner object; guard it externally if shared
// between goroutines.
type Card struct {
	reader   *Reader
	envelope *cardEnvelope
	raw      []byte

	authenticated  bool
	privateDetails *Details
	cardKey        *secp256k1.PrivateKey

	// details is the merged visible view, recomputed on every state
	// change rather than mutated in place.
	details Details

	publicKeyOnce sync.Once
	publicKey     []byte
}

func newCardObject(reader *Reader, envelope *cardEnvelope, raw []byte) *Card {

	card := &Card{
		reader:   reader,
		envelope: envelope,
		raw:      raw,
	}

	card.updateDetails()

	return card
}

// updateDetails recomputes the merged detail view for the current
// authentication state.
func (card *Card) updateDetails() {

	if card.authenticated {
		card.details = mergeDetails(card.envelope.PublicCard.Details, card.privateDetails)
	} else {
		card.details = mergeDetails(card.envelope.PublicCard.Details, nil)
	}
}

// IsAuthenticated reports whether the PIN or the face has been verified.
func (card *Card) IsAuthenticated() bool {
	return card.authenticated
}

// HasCertificate reports whether the card carries a certificate chain.
func (card *Card) HasCertificate() bool {
	return len(card.envelope.Certificates) > 0
}

// VerifyCertificate validates the card's certificate chain against the
// opening reader's trust configuration and verifies the public block
// signature. It returns false rather than an error, so an untrusted
// open can still probe the result.
func (card *Card) VerifyCertificate() bool {
	return card.reader.verifyEnvelopeTrust(card.envelope) == nil
}

// VerifyCardSignature checks the public block signature only,
// independent of chain trust.
func (card *Card) VerifyCardSignature() bool {
	return card.reader.VerifyCardSignature(card)
}

// AuthenticateWithPIN derives the private block decryption key from the
// PIN and the reader's encryption key material. A wrong PIN fails with
// ErrCardVerification and leaves the card unauthenticated; the attempt
// may be retried.
func (card *Card) AuthenticateWithPIN(pin string) error {

	if card.authenticated {
		return nil
	}

	shared, salt, err := card.sharedSecret()
	if err != nil {
		return err
	}

	pinKey, err := derivePinKey(pin, shared, salt)
	if err != nil {
		return err
	}

	encrypted := &card.envelope.EncryptedCard

	contentKey, err := aeadOpen(pinKey, encrypted.PinNonce, encrypted.PinWrap)
	if err != nil {
		slog.Debug("PIN authentication failed")
		return ErrCardVerification
	}

	return card.openPrivateBlock(contentKey)
}

// AuthenticateWithFace extracts a template from the photo and compares
// it against the template embedded in the public block. At or below the
// reader's threshold the private block is decrypted through the face
// path, which does not require the PIN.
func (card *Card) AuthenticateWithFace(photo []byte) error {

	if card.authenticated {
		return nil
	}

	embedded := card.envelope.PublicCard.Template
	if len(embedded) == 0 {
		return ErrCardVerification
	}

	template, err := card.reader.comparator.ExtractTemplate(photo, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCardVerification, err)
	}

	distance, err := card.reader.comparator.Compare(template, embedded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCardVerification, err)
	}

	threshold := card.reader.faceDiffThreshold

	slog.Debug("Face comparison", "Distance", distance, "Threshold", threshold)

	if distance > threshold {
		return ErrCardVerification
	}

	shared, salt, err := card.sharedSecret()
	if err != nil {
		return err
	}

	faceKey, err := deriveFaceKey(shared, salt)
	if err != nil {
		return err
	}

	encrypted := &card.envelope.EncryptedCard

	contentKey, err := aeadOpen(faceKey, encrypted.FaceNonce, encrypted.FaceWrap)
	if err != nil {
		return ErrCardVerification
	}

	return card.openPrivateBlock(contentKey)
}

// sharedSecret recomputes the ECDH secret between the card's ephemeral
// key and the reader's encryption key.
func (card *Card) sharedSecret() ([]byte, []byte, error) {

	encrypted := &card.envelope.EncryptedCard

	ephemeralKey, err := btcec.ParsePubKey(encrypted.EphemeralKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}

	shared := generateSharedSecret(card.reader.keySet.encryptionKey, ephemeralKey)

	return shared, encrypted.Salt, nil
}

// openPrivateBlock decrypts and parses the private block with the
// released content key, then transitions the card to authenticated. A
// parse failure after a successful decryption is a corrupt card, not a
// wrong secret, and is reported as ErrInvalidCard.
func (card *Card) openPrivateBlock(contentKey []byte) error {

	encrypted := &card.envelope.EncryptedCard

	blobKey, err := deriveKey(contentKey, encrypted.Salt, blobKeyInfo)
	if err != nil {
		return err
	}

	plaintext, err := aeadOpen(blobKey, encrypted.BlobNonce, encrypted.Blob)
	if err != nil {
		return ErrInvalidCard
	}

	var private privateCard

	if err := decMode.Unmarshal(plaintext, &private); err != nil {
		return ErrInvalidCard
	}

	if len(private.CardKey) != 32 {
		return ErrInvalidCard
	}

	cardKey := secp256k1.PrivKeyFromBytes(private.CardKey)
	if cardKey.Key.IsZero() {
		return ErrInvalidCard
	}

	card.privateDetails = &private.Details
	card.cardKey = cardKey
	card.authenticated = true
	card.updateDetails()

	slog.Debug("Card authenticated")

	return nil
}

func (card *Card) checkIsAuthenticated() error {

	if !card.authenticated {
		return ErrNotVerified
	}

	return nil
}

// GetDetails returns the currently visible detail view: the public
// block's fields, overridden by the private block once authenticated.
func (card *Card) GetDetails() Details {
	return card.details
}

// GetGivenName returns the visible given name, or "" when gated.
func (card *Card) GetGivenName() string {
	return card.details.GivenName
}

// GetSurname returns the visible surname, or "" when gated.
func (card *Card) GetSurname() string {
	return card.details.SurName
}

// GetFullName returns the visible full name, or "" when gated.
func (card *Card) GetFullName() string {
	return card.details.FullName
}

// GetUIN returns the visible unique identification number.
func (card *Card) GetUIN() string {
	return card.details.UIN
}

// GetGender returns the visible gender code, or 0 when gated.
func (card *Card) GetGender() int {
	return card.details.Gender
}

// GetPlaceOfBirth returns the visible place of birth, or "" when gated.
func (card *Card) GetPlaceOfBirth() string {
	return card.details.PlaceOfBirth
}

// GetDateOfBirth returns the visible date of birth, or nil when gated.
func (card *Card) GetDateOfBirth() *Date {
	return card.details.DateOfBirth
}

// GetPostalAddress returns the visible postal address, or nil when gated.
func (card *Card) GetPostalAddress() *PostalAddress {
	return card.details.PostalAddress
}

// GetCardExtras returns the visible extra key/value pairs: public
// extras, with private extras unioned in after authentication.
func (card *Card) GetCardExtras() map[string]string {

	extras := make(map[string]string, len(card.details.Extra))

	for _, kv := range card.details.Extra {
		extras[kv.Key] = kv.Value
	}

	return extras
}

// AsBytes returns the card's wire bytes, suitable for rendering as a QR
// code or for persistence.
func (card *Card) AsBytes() []byte {

	bytes := make([]byte, len(card.raw))
	copy(bytes, card.raw)

	return bytes
}

// Identity returns the human readable identity of the card, derived
// from a hash of its bytes.
func (card *Card) Identity() string {
	return formatIdentity(sha256Sum(card.raw))
}

// GetPublicKey returns the card's own public key, derived from the
// bundled secret key on first call and cached for the card's lifetime.
func (card *Card) GetPublicKey() ([]byte, error) {

	if err := card.checkIsAuthenticated(); err != nil {
		return nil, err
	}

	card.publicKeyOnce.Do(func() {
		card.publicKey = card.cardKey.PubKey().SerializeCompressed()
	})

	publicKey := make([]byte, len(card.publicKey))
	copy(publicKey, card.publicKey)

	return publicKey, nil
}

// Sign signs data with the card's own key, returning a 64 byte r || s
// signature.
func (card *Card) Sign(data []byte) ([]byte, error) {

	if err := card.checkIsAuthenticated(); err != nil {
		return nil, err
	}

	signature, err := signCompact(card.cardKey, sha256Sum(data))
	if err != nil {
		return nil, err
	}

	return signature[:], nil
}

// Verify checks a 64 byte signature over data under the given
// compressed public key.
func (card *Card) Verify(data, signature, publicKey []byte) (bool, error) {

	if err := card.checkIsAuthenticated(); err != nil {
		return false, err
	}

	if len(signature) != 64 {
		return false, nil
	}

	parsedKey, err := btcec.ParsePubKey(publicKey)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrKey, err)
	}

	var compact [64]byte
	copy(compact[:], signature)

	return verifyCompact(compact, sha256Sum(data), parsedKey), nil
}

// Encrypt encrypts data to the card's own public key. The output embeds
// an ephemeral public key and a nonce and is decryptable only with the
// card's bundled secret key.
func (card *Card) Encrypt(data []byte) ([]byte, error) {

	if err := card.checkIsAuthenticated(); err != nil {
		return nil, err
	}

	ephemeral, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	shared := generateSharedSecret(ephemeral, card.cardKey.PubKey())

	key, err := deriveKey(shared, nil, messageKeyInfo)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext, err := aeadSeal(key, data)
	if err != nil {
		return nil, err
	}

	out := ephemeral.PubKey().SerializeCompressed()
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	return out, nil
}

// Decrypt reverses Encrypt using the card's bundled secret key.
func (card *Card) Decrypt(data []byte) ([]byte, error) {

	if err := card.checkIsAuthenticated(); err != nil {
		return nil, err
	}

	if len(data) < 33+nonceSize {
		return nil, fmt.Errorf("idlite: decrypt: ciphertext too short")
	}

	ephemeralKey, err := btcec.ParsePubKey(data[:33])
	if err != nil {
		return nil, fmt.Errorf("idlite: decrypt: %w", err)
	}

	shared := generateSharedSecret(card.cardKey, ephemeralKey)

	key, err := deriveKey(shared, nil, messageKeyInfo)
	if err != nil {
		return nil, err
	}

	plaintext, err := aeadOpen(key, data[33:33+nonceSize], data[33+nonceSize:])
	if err != nil {
		return nil, fmt.Errorf("idlite: decrypt: %w", err)
	}

	return plaintext, nil
}
