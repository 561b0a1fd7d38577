package videogen

import (
	"hash/fnv"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"server/internal/domain"
)

var foldCaser = cases.Fold()

// normalizeField trims, case-folds and collapses internal whitespace so that
// incidental formatting differences never change a fingerprint.
func normalizeField(s string) string {
	return strings.Join(strings.Fields(foldCaser.String(s)), " ")
}

// Fingerprint derives the deduplication key for a request: normalized fields
// joined in fixed order, reduced through FNV-1a and rendered base-36. The
// hash is deliberately fast rather than cryptographic; colliding prompts
// would only share a cache entry.
func Fingerprint(req domain.GenerationRequest, size string) string {
	orientation := "upright"
	if req.Card.Reversed {
		orientation = "reversed"
	}
	parts := []string{
		normalizeField(req.Card.Name),
		orientation,
		normalizeField(req.Style),
		strconv.Itoa(req.Seconds),
		size,
		normalizeField(req.Question),
		normalizeField(req.Position),
	}
	h := fnv.New64a()
	io.WriteString(h, strings.Join(parts, "|"))
	return strconv.FormatUint(h.Sum64(), 36)
}
