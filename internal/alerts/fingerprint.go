package alerts

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/revguard/revguard/internal/utils"
)

// volatileLabels are excluded from fingerprint derivation because they vary
// across restarts of the same underlying condition.
var volatileLabels = map[string]bool{
	"instance": true,
	"pod":      true,
}

// ResolveFingerprint derives the stable deduplication key for an event.
// An explicit upstream fingerprint is used verbatim. Otherwise the key is
// hashed from the sorted non-volatile label set; events with no usable
// labels fall back to a hash of the rule name and truncated title. The
// result is never empty.
func ResolveFingerprint(e Event) string {
	if e.Fingerprint != "" {
		return e.Fingerprint
	}

	keys := make([]string, 0, len(e.Labels))
	for k := range e.Labels {
		if volatileLabels[k] {
			continue
		}
		keys = append(keys, k)
	}

	if len(keys) > 0 {
		sort.Strings(keys)
		h := sha256.New()
		for _, k := range keys {
			h.Write([]byte(k))
			h.Write([]byte{0})
			h.Write([]byte(e.Labels[k]))
			h.Write([]byte{0})
		}
		return hex.EncodeToString(h.Sum(nil))
	}

	// No labels at all: hash rule name plus truncated title so a key is
	// still always produced.
	h := sha256.New()
	h.Write([]byte(e.RuleName))
	h.Write([]byte{0})
	h.Write([]byte(utils.TruncateText(e.Title, 64)))
	return hex.EncodeToString(h.Sum(nil))
}
