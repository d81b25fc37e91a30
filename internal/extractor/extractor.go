package extractor

import (
	"regexp"
	"strings"

	"github.com/example/kyc-check/internal/vision"
)

// NotDetected is the sentinel value for fields the heuristics could not resolve.
const NotDetected = "Not Detected"

// Fields is the structured record extracted from a document's text lines.
type Fields struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"dob"`
	IDNumber    string `json:"id_number"`
}

var (
	// 12 digits, contiguous or grouped 4-4-4, national-ID style numbering.
	nationalIDPattern = regexp.MustCompile(`\d{4} \d{4} \d{4}|\d{12}`)

	// Labelled identifiers, matched against the upper-cased line, in priority order.
	labelledIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`ID\s*[:#]?\s*([A-Z0-9-]+)`),
		regexp.MustCompile(`NO\s*[:#]?\s*([A-Z0-9-]+)`),
	}

	bareDatePattern    = regexp.MustCompile(`\d{2}[/-]\d{2}[/-]\d{4}`)
	labelledDOBPattern = regexp.MustCompile(`DOB\s*:?\s*([\w\s-]+)`)

	// Document boilerplate that disqualifies a line as a name candidate.
	nameBlocklist = []string{
		"GOVERNMENT", "INDIA", "MALE", "FEMALE", "TRANSGENDER",
		"BHARAT", "SARKAR", "AADHAAR", "AUTHORITY",
	}
)

// Lines filters OCR detections down to whole text lines, preserving order.
func Lines(detections []vision.TextDetection) []string {
	var lines []string
	for _, d := range detections {
		if d.Granularity == vision.GranularityLine {
			lines = append(lines, d.Text)
		}
	}
	return lines
}

// Extract derives identity fields from document text lines in recognition
// order. Each field locks in on its first acceptable match and is never
// reconsidered; unmatched fields keep the NotDetected sentinel. Extraction
// is best effort and never fails.
func Extract(lines []string) Fields {
	fields := Fields{Name: NotDetected, DateOfBirth: NotDetected, IDNumber: NotDetected}

	for _, line := range lines {
		upper := strings.ToUpper(strings.TrimSpace(line))

		if fields.Name == NotDetected {
			if name, ok := matchName(line, upper); ok {
				fields.Name = name
			}
		}
		if fields.IDNumber == NotDetected {
			if id, ok := matchIDNumber(line, upper); ok {
				fields.IDNumber = id
			}
		}
		if fields.DateOfBirth == NotDetected {
			if dob, ok := matchDateOfBirth(upper); ok {
				fields.DateOfBirth = dob
			}
		}
	}

	return fields
}

// matchName accepts a line as the holder's name when it is long enough,
// carries no digits, and contains none of the boilerplate tokens.
func matchName(line, upper string) (string, bool) {
	if len(line) <= 5 {
		return "", false
	}
	if strings.ContainsAny(line, "0123456789") {
		return "", false
	}
	for _, keyword := range nameBlocklist {
		if strings.Contains(upper, keyword) {
			return "", false
		}
	}
	return strings.TrimSpace(line), true
}

// matchIDNumber prefers the 12-digit national-ID pattern on the raw line,
// then falls back to labelled ID/NO patterns on the upper-cased line.
func matchIDNumber(line, upper string) (string, bool) {
	if m := nationalIDPattern.FindString(line); m != "" {
		return m, true
	}
	for _, pattern := range labelledIDPatterns {
		if m := pattern.FindStringSubmatch(upper); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// matchDateOfBirth prefers a bare DD/MM/YYYY date over a labelled DOB run.
func matchDateOfBirth(upper string) (string, bool) {
	if m := bareDatePattern.FindString(upper); m != "" {
		return m, true
	}
	if m := labelledDOBPattern.FindStringSubmatch(upper); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}
