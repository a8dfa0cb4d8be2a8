package feed

import (
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

var (
	utf8BOM         = []byte{0xEF, 0xBB, 0xBF}
	xmlDeclaration  = regexp.MustCompile(`^\s*<\?xml[^>]*\?>`)
	declaredCharset = regexp.MustCompile(`(?i)encoding\s*=\s*["']([^"']+)["']`)
)

// toUTF8 re-decodes an XML document into UTF-8. The charset comes from the
// XML declaration, then the Content-Type header, then a statistical guess
// when the bytes are not valid UTF-8. The declaration is rewritten so the
// XML decoder does not convert the text a second time.
func toUTF8(data []byte, headerCharset string) ([]byte, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	label := documentCharset(data)
	if label == "" {
		label = strings.TrimSpace(headerCharset)
	}
	if label == "" {
		if utf8.Valid(data) {
			return data, nil
		}
		label = guessCharset(data)
		if label == "" {
			return data, nil
		}
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		slog.Debug("Unknown charset, parsing as is", "charset", label)
		return data, nil
	}

	name, _ := htmlindex.Name(enc)
	if name == "utf-8" {
		return data, nil
	}

	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s document: %w", label, err)
	}

	return rewriteDeclaration(decoded), nil
}

func documentCharset(data []byte) string {
	decl := xmlDeclaration.Find(data)
	if decl == nil {
		return ""
	}
	if m := declaredCharset.FindSubmatch(decl); m != nil {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}

func guessCharset(data []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return ""
	}
	slog.Debug("Charset guessed", "charset", result.Charset, "confidence", result.Confidence)
	return result.Charset
}

func rewriteDeclaration(data []byte) []byte {
	loc := xmlDeclaration.FindIndex(data)
	if loc == nil {
		return data
	}

	decl := data[loc[0]:loc[1]]
	fixed := declaredCharset.ReplaceAll(decl, []byte(`encoding="utf-8"`))

	out := make([]byte, 0, len(data)-len(decl)+len(fixed))
	out = append(out, data[:loc[0]]...)
	out = append(out, fixed...)
	out = append(out, data[loc[1]:]...)
	return out
}
