package crypto

import (
	"regexp"
)

// fernetPrefix is the leading characters of every base64url-encoded
// Fernet token (the version byte 0x80 always base64-encodes to "gAAAAAB").
const fernetPrefix = "gAAAAAB"

// placeholder replaces content whose decryption failed, never a hard
// error — callers still get a result to render.
const placeholder = "[ENCRYPTED CONTENT]"

var partialPattern = regexp.MustCompile(`([\w_]+):\s*(gAAAAAB[A-Za-z0-9_-]+={0,2})`)

// DecryptContent mirrors the original retrieval service's
// _decrypt_content: content may be fully encrypted (the whole string is
// one Fernet token) or partially encrypted (individual "key: token" pairs
// embedded in otherwise-plaintext content, e.g. extracted metadata
// fields). A decrypt failure never propagates; it degrades to a
// placeholder so the rest of the chunk stays readable.
func DecryptContent(f *Fernet, content string) string {
	if content == "" {
		return content
	}
	if hasFernetPrefix(content) {
		plain, err := f.Decrypt(content)
		if err != nil {
			return placeholder
		}
		return string(plain)
	}

	return partialPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := partialPattern.FindStringSubmatch(match)
		key, token := groups[1], groups[2]
		plain, err := f.Decrypt(token)
		if err != nil {
			return key + ": [ENCRYPTED]"
		}
		return key + ": " + string(plain)
	})
}

func hasFernetPrefix(s string) bool {
	return len(s) >= len(fernetPrefix) && s[:len(fernetPrefix)] == fernetPrefix
}
