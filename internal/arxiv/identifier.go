package arxiv

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"litagent/internal/util"
)

// idPattern matches modern (YYMM.NNNNN) and legacy (archive.SC/YYMMNNN)
// identifiers with an optional "arXiv:" prefix and version suffix.
var idPattern = regexp.MustCompile(`(?i)(?:\barxiv:\s*)?(?:\b(\d{2})(\d{2})\.(\d{4,5})(?:v\d+)?\b|\b([a-z]+(?:-[a-z]+)?)(\.[a-z]{2})?/(\d{2})(\d{2})(\d{3})(?:v\d+)?\b)`)

var legacyArchives = map[string]bool{
	"acc-phys": true, "adap-org": true, "alg-geom": true, "ao-sci": true,
	"astro-ph": true, "atom-ph": true, "bayes-an": true, "chao-dyn": true,
	"chem-ph": true, "cmp-lg": true, "comp-gas": true, "cond-mat": true,
	"cs": true, "dg-ga": true, "funct-an": true, "gr-qc": true,
	"hep-ex": true, "hep-lat": true, "hep-ph": true, "hep-th": true,
	"math": true, "math-ph": true, "mtrl-th": true, "nlin": true,
	"nucl-ex": true, "nucl-th": true, "patt-sol": true, "physics": true,
	"plasm-ph": true, "q-alg": true, "q-bio": true, "quant-ph": true,
	"solv-int": true, "supr-con": true,
}

// ExtractIdentifiers returns the canonical identifiers mentioned in text, in
// order of first appearance and without duplicates. Version suffixes are
// dropped, so 2101.00001v2 and arXiv:2101.00001 collapse to one entry.
func ExtractIdentifiers(text string) []string {
	ids, _ := ScanIdentifiers(text)
	return ids
}

// ScanIdentifiers is ExtractIdentifiers that also reports the id-shaped
// tokens it rejected (impossible months, unknown archives, wrong digit count
// for the period).
func ScanIdentifiers(text string) (ids []string, malformed []string) {
	ids = make([]string, 0)
	seen := make(map[string]bool)
	for _, m := range idPattern.FindAllStringSubmatch(text, -1) {
		id, err := canonicalFromMatch(m)
		if err != nil {
			malformed = append(malformed, strings.TrimSpace(m[0]))
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, malformed
}

// Canonical validates a single identifier and returns its versionless form.
// Surrounding whitespace, an "arXiv:" prefix and abs/pdf url prefixes are
// accepted.
func Canonical(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	for _, prefix := range []string{"https://arxiv.org/abs/", "http://arxiv.org/abs/", "https://arxiv.org/pdf/", "http://arxiv.org/pdf/"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimSuffix(s, ".pdf")
	loc := idPattern.FindStringSubmatchIndex(s)
	if loc == nil || loc[0] != 0 || loc[1] != len(s) {
		return "", fmt.Errorf("%q: %w", raw, util.ErrMalformedIdentifier)
	}
	m := idPattern.FindStringSubmatch(s)
	id, err := canonicalFromMatch(m)
	if err != nil {
		return "", fmt.Errorf("%q: %w", raw, err)
	}
	return id, nil
}

// Valid reports whether raw is a well-formed identifier.
func Valid(raw string) bool {
	_, err := Canonical(raw)
	return err == nil
}

func canonicalFromMatch(m []string) (string, error) {
	if m[1] != "" {
		return modernID(m[1], m[2], m[3])
	}
	return legacyID(m[4], m[5], m[6], m[7], m[8])
}

func modernID(yy, mm, seq string) (string, error) {
	year, _ := strconv.Atoi(yy)
	month, _ := strconv.Atoi(mm)
	if month < 1 || month > 12 {
		return "", util.ErrMalformedIdentifier
	}
	// the modern scheme starts at 0704; five digit sequence numbers since 1501
	yymm := year*100 + month
	if yymm < 704 {
		return "", util.ErrMalformedIdentifier
	}
	if (yymm < 1501) != (len(seq) == 4) {
		return "", util.ErrMalformedIdentifier
	}
	return yy + mm + "." + seq, nil
}

func legacyID(archive, class, yy, mm, seq string) (string, error) {
	archive = strings.ToLower(archive)
	if !legacyArchives[archive] {
		return "", util.ErrMalformedIdentifier
	}
	year, _ := strconv.Atoi(yy)
	month, _ := strconv.Atoi(mm)
	if month < 1 || month > 12 {
		return "", util.ErrMalformedIdentifier
	}
	if year > 7 && year < 91 {
		return "", util.ErrMalformedIdentifier
	}
	if class != "" {
		class = "." + strings.ToUpper(class[1:])
	}
	return archive + class + "/" + yy + mm + seq, nil
}
