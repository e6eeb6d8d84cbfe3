// Package normalize converts heterogeneous ledger-native representations
// (addresses, memos, timestamps) into canonical comparable forms. All
// functions are pure; matching logic elsewhere must only ever compare the
// normalized forms, never the raw inputs.
package normalize

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// memoFolder case-folds memo text for caseless comparison.
var memoFolder = cases.Fold()

// Address returns the canonical form of a ledger account address: Unicode
// NFC, surrounding whitespace removed. Address characters themselves are
// case-sensitive on the ledger, so case is preserved.
func Address(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Memo returns the canonical form of a transaction memo used as a one-time
// correlation token: Unicode NFKC, case-folded, internal whitespace collapsed
// to single spaces, surrounding whitespace removed.
//
// Memos differing only in case, width or surrounding whitespace compare
// equal after normalization; memos differing in digits do not.
func Memo(s string) string {
	folded := memoFolder.String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(folded), " ")
}

// Timestamp returns the canonical ISO-8601 (RFC 3339) UTC form of a block
// timestamp, or the empty string for the zero time.
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
