package idlite

import (
	"crypto/sha256"
	"encoding/base32"
	"log/slog"
	"os"
	"strings"
)

func sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// formatIdentity converts a card digest into a hash formatted for
// humans:
// - skip the first 8 bytes of the digest
// - base32 and take the first 20 chars in 4 groups of five
// - insert dashes
// - the result is 23 chars long
func formatIdentity(digest [32]byte) string {

	base32String := base32.StdEncoding.EncodeToString(digest[8:])

	// Only keep the first 20 characters
	s := base32String[:20]

	// Split the string into groups of 5 characters
	var groups []string
	for i := 0; i < len(s); i += 5 {
		end := i + 5
		if end > len(s) {
			end = len(s)
		}
		groups = append(groups, s[i:end])
	}

	// Join the groups with dashes
	return strings.Join(groups, "-")
}

// EnableDebugLogging is a function that enables debug logging in the
// application. It creates a new text handler that writes to the standard
// error output and sets the log level to debug. It then sets this
// handler as the default handler for the slog package.
func EnableDebugLogging() {

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))
}
