package usecase

import "github.com/example/kyc-check/internal/vision"

// EvaluateFaceMatch interprets a comparator result. The similarity threshold
// is applied by the comparator itself, so a non-empty candidate list means
// the faces matched; the first candidate is the best match.
func EvaluateFaceMatch(matches []vision.FaceMatch) (match bool, similarity float64) {
	if len(matches) == 0 {
		return false, 0
	}
	return true, matches[0].Similarity
}
