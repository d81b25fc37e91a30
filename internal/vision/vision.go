package vision

import "context"

// ImageRef locates a stored image in object storage.
type ImageRef struct {
	Bucket string
	Key    string
}

// FaceMatch is one candidate match returned by the face comparator, best first.
type FaceMatch struct {
	Similarity float64
}

// TextDetection is a single OCR detection with its granularity tag
// ("LINE" for whole lines, "WORD" for individual tokens).
type TextDetection struct {
	Text        string
	Granularity string
}

// GranularityLine marks detections that span a full recognized text line.
const GranularityLine = "LINE"

// FaceComparator compares a source face against a target image. Candidates
// below minSimilarity are filtered out by the collaborator itself.
type FaceComparator interface {
	CompareFaces(ctx context.Context, source, target ImageRef, minSimilarity float64) ([]FaceMatch, error)
}

// TextRecognizer runs OCR over a stored image.
type TextRecognizer interface {
	DetectText(ctx context.Context, image ImageRef) ([]TextDetection, error)
}
