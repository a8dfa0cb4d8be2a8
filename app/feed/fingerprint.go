package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/lysyi3m/rss-ingest/app/database"
)

var ErrMissingFingerprint = errors.New("item is missing a fingerprint")

const fingerprintPrefixLength = 12

func hashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

// ItemFingerprint hashes the fields that make up an article's visible state.
// Any change to them produces a different fingerprint.
func ItemFingerprint(title, summary, content string, attachments []database.Attachment) string {
	urls := make([]string, 0, len(attachments))
	for _, a := range attachments {
		urls = append(urls, a.URL)
	}

	return hashString(strings.Join([]string{title, summary, content, strings.Join(urls, ",")}, "|"))
}

// FeedFingerprint condenses item fingerprints, in order, into one value that
// changes whenever any item changes or items are added, removed or reordered.
func FeedFingerprint(items []Item) (string, error) {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item.Fingerprint == "" {
			return "", ErrMissingFingerprint
		}
		prefix := item.Fingerprint
		if len(prefix) > fingerprintPrefixLength {
			prefix = prefix[:fingerprintPrefixLength]
		}
		parts = append(parts, prefix)
	}

	return hashString(strings.Join(parts, ",")), nil
}
