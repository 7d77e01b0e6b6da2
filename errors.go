package idlite

import (
	"errors"
	"fmt"
)

// Errors returned by the reader and card operations.
var (
	// ErrDecode is returned when the wire bytes of a card cannot be parsed.
	ErrDecode = errors.New("idlite: malformed card bytes")

	// ErrUntrusted is returned by Open when the certificate chain of a card
	// does not validate against the reader's trust configuration.
	ErrUntrusted = errors.New("idlite: card is not trusted")

	// ErrCardVerification is returned when a PIN or a face does not match.
	// The card stays unauthenticated and the attempt may be retried.
	ErrCardVerification = errors.New("idlite: card verification failed")

	// ErrInvalidCard is returned when the private block decrypts but does
	// not parse. This signals a corrupt card, not a wrong secret.
	ErrInvalidCard = errors.New("idlite: invalid card content")

	// ErrNotVerified is returned when an operation requiring authentication
	// is called before the card has been authenticated.
	ErrNotVerified = errors.New("idlite: card not authenticated")

	// ErrKey is returned when malformed key material is supplied.
	ErrKey = errors.New("idlite: malformed key material")
)

// TrustErrorKind tells why a certificate chain was rejected.
type TrustErrorKind int

const (
	// BrokenLink means a signature somewhere along the chain did not verify.
	BrokenLink TrustErrorKind = iota
	// Revoked means a subject or issuer key along the chain is revoked.
	Revoked
	// TargetMismatch means the chain does not end at the expected leaf key.
	TargetMismatch
)

func (k TrustErrorKind) String() string {
	switch k {
	case BrokenLink:
		return "broken link"
	case Revoked:
		return "revoked key"
	case TargetMismatch:
		return "target mismatch"
	default:
		return "unknown"
	}
}

// TrustError is the chain validation failure returned by ValidateChain.
// It matches ErrUntrusted under errors.Is so callers of Open can treat
// every trust failure uniformly.
type TrustError struct {
	Kind TrustErrorKind
}

func (e *TrustError) Error() string {
	return fmt.Sprintf("idlite: certificate chain rejected: %s", e.Kind)
}

func (e *TrustError) Is(target error) bool {
	return target == ErrUntrusted
}
