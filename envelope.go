package idlite

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Domain separation tags for the signatures produced by this package.
const (
	cardDomain = "IDLITE-CARD"
	certDomain = "IDLITE-CERT"
)

// The encoder is deterministic so that re-encoding a decoded card
// reproduces the exact bytes the issuer signed. The decoder rejects
// unknown fields, as scanned card bytes are attacker controlled.
var (
	encMode, _ = cbor.CoreDetEncOptions().EncMode()
	decMode, _ = cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorUnknownField}.DecMode()
)

// cardEnvelope is the top level wire structure of a card: the signed
// public block, the encrypted private block and the certificate chain.
type cardEnvelope struct {
	PublicCard    publicCard    `cbor:"pub"`
	EncryptedCard encryptedCard `cbor:"enc"`
	Certificates  []Certificate `cbor:"certs,omitempty"`
}

// publicCard is the always visible part of a card. Signature covers the
// deterministic encoding of signedPart under the issuer's signature key.
type publicCard struct {
	Details   Details `cbor:"details"`
	Template  []byte  `cbor:"template,omitempty"`
	CreatedAt int64   `cbor:"created"`
	SignerKey []byte  `cbor:"signer"`
	Signature []byte  `cbor:"sig"`
}

// signedPart is the portion of the public card covered by its signature.
type signedPart struct {
	Details   Details `cbor:"details"`
	Template  []byte  `cbor:"template,omitempty"`
	CreatedAt int64   `cbor:"created"`
	SignerKey []byte  `cbor:"signer"`
}

// encryptedCard carries the private block. Blob holds the encrypted
// privateCard; the content key that seals it is wrapped twice, once
// under the PIN derived key and once under the face path key, so either
// secret releases the same plaintext.
type encryptedCard struct {
	EphemeralKey []byte `cbor:"epubkey"`
	Salt         []byte `cbor:"salt"`
	PinNonce     []byte `cbor:"pin_nonce"`
	PinWrap      []byte `cbor:"pin_wrap"`
	FaceNonce    []byte `cbor:"face_nonce"`
	FaceWrap     []byte `cbor:"face_wrap"`
	BlobNonce    []byte `cbor:"blob_nonce"`
	Blob         []byte `cbor:"blob"`
}

// privateCard is the plaintext of the encrypted block: the gated detail
// fields plus the card's own secret key.
type privateCard struct {
	Details Details `cbor:"details"`
	CardKey []byte  `cbor:"card_key"`
}

func (envelope *cardEnvelope) encode() ([]byte, error) {

	bytes, err := encMode.Marshal(envelope)
	if err != nil {
		return nil, err
	}

	return bytes, nil
}

// decodeEnvelope parses untrusted card bytes. Any malformed input is
// reported as ErrDecode; it never panics and never leaves partial state
// behind.
func decodeEnvelope(bytes []byte) (*cardEnvelope, error) {

	var envelope cardEnvelope

	if err := decMode.Unmarshal(bytes, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if len(envelope.PublicCard.SignerKey) != 33 {
		return nil, fmt.Errorf("%w: bad signer key length %d", ErrDecode, len(envelope.PublicCard.SignerKey))
	}

	if len(envelope.PublicCard.Signature) != 64 {
		return nil, fmt.Errorf("%w: bad signature length %d", ErrDecode, len(envelope.PublicCard.Signature))
	}

	// The AEAD panics on a wrong size nonce, so reject bad lengths
	// here rather than at authentication time.
	encrypted := &envelope.EncryptedCard
	for _, nonce := range [][]byte{encrypted.PinNonce, encrypted.FaceNonce, encrypted.BlobNonce} {
		if len(nonce) != nonceSize {
			return nil, fmt.Errorf("%w: bad nonce length %d", ErrDecode, len(nonce))
		}
	}

	if len(encrypted.EphemeralKey) != 33 {
		return nil, fmt.Errorf("%w: bad ephemeral key length %d", ErrDecode, len(encrypted.EphemeralKey))
	}

	for _, certificate := range envelope.Certificates {
		if err := certificate.check(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}

	return &envelope, nil
}

// signedBytes returns the deterministic encoding of the signed portion
// of the public card, prefixed with the card domain tag.
func (card *publicCard) signedBytes() ([]byte, error) {

	part := signedPart{
		Details:   card.Details,
		Template:  card.Template,
		CreatedAt: card.CreatedAt,
		SignerKey: card.SignerKey,
	}

	bytes, err := encMode.Marshal(&part)
	if err != nil {
		return nil, err
	}

	return append([]byte(cardDomain), bytes...), nil
}
