package faces

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ParseIdentityID returns the leading run of ASCII digits in the base name
// of name, or nil when there is none or it does not fit in an int64.
func ParseIdentityID(name string) *int64 {
	base := filepath.Base(name)
	end := 0
	for end < len(base) && base[end] >= '0' && base[end] <= '9' {
		end++
	}
	if end == 0 {
		return nil
	}
	id, err := strconv.ParseInt(base[:end], 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// DisplayLabel turns a roster file name such as "1042_Jane_Doe.jpg" into
// "Jane Doe". Names without a person part fall back to the base name.
func DisplayLabel(name string) string {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	rest := strings.TrimLeft(stem, "0123456789")
	rest = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' || r == '.' {
			return ' '
		}
		return r
	}, rest)
	rest = strings.Join(strings.Fields(rest), " ")
	if rest == "" {
		return stem
	}
	return rest
}

// SearchKey folds a label for case- and accent-insensitive matching.
func SearchKey(label string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, label)
	if err != nil {
		folded = label
	}
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}
