package idlite

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"math/bits"
)

// FaceComparator is the external biometric oracle consumed by the
// reader. ExtractTemplate turns a photo into a fixed size template
// (its size depends on the precision mode) and Compare returns the
// difference between two templates as a distance, lower meaning more
// alike. The reader owns only the distance-to-threshold decision.
type FaceComparator interface {
	ExtractTemplate(photo []byte, highPrecision bool) ([]byte, error)
	Compare(a, b []byte) (float64, error)
}

// DefaultFaceDiffThreshold is the comparison cutoff applied when a
// reader has not been tuned with SetFaceDiffThreshold.
const DefaultFaceDiffThreshold = 0.42

// DigestComparator is the built-in comparator. It has no notion of
// facial features: templates are photo digests and the distance is the
// normalized Hamming distance between them, so identical photos measure
// 0.0 and unrelated photos measure close to 0.5. It exists so the
// threshold logic can run without an embedding model; production
// deployments inject a real comparator instead.
type DigestComparator struct{}

// ExtractTemplate returns a 32 byte template, or 64 bytes in high
// precision mode.
func (DigestComparator) ExtractTemplate(photo []byte, highPrecision bool) ([]byte, error) {

	if len(photo) == 0 {
		return nil, errors.New("empty photo")
	}

	if highPrecision {
		template := sha512.Sum512(photo)
		return template[:], nil
	}

	template := sha256.Sum256(photo)
	return template[:], nil
}

// Compare returns the fraction of differing bits between two templates
// of the same length.
func (DigestComparator) Compare(a, b []byte) (float64, error) {

	if len(a) != len(b) || len(a) == 0 {
		return 0, errors.New("template size mismatch")
	}

	differing := 0
	for i := range a {
		differing += bits.OnesCount8(a[i] ^ b[i])
	}

	return float64(differing) / float64(len(a)*8), nil
}
