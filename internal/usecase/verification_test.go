package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/kyc-check/internal/extractor"
	"github.com/example/kyc-check/internal/logging"
	"github.com/example/kyc-check/internal/repository"
	"github.com/example/kyc-check/internal/vision"
)

var testBuckets = Buckets{Documents: "kyc-docs", Faces: "kyc-faces", Selfies: "kyc-selfies"}

type stubRepository struct {
	created     []*repository.Submission
	createErr   error
	submission  *repository.Submission
	findErr     error
	savedIDs    []string
	saved       []repository.ResultUpdate
	saveErr     error
	aggregation *repository.MetricsAggregation
	aggErr      error
}

func (s *stubRepository) CreateSubmission(ctx context.Context, submission *repository.Submission) error {
	s.created = append(s.created, submission)
	return s.createErr
}

func (s *stubRepository) FindByKYCID(ctx context.Context, kycID string) (*repository.Submission, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.submission, nil
}

func (s *stubRepository) SaveResult(ctx context.Context, kycID string, update repository.ResultUpdate) error {
	s.savedIDs = append(s.savedIDs, kycID)
	s.saved = append(s.saved, update)
	return s.saveErr
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.aggErr != nil {
		return nil, s.aggErr
	}
	return s.aggregation, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []string
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if str, ok := value.(string); ok {
		s.setValues = append(s.setValues, str)
	}
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubComparator struct {
	matches   []vision.FaceMatch
	err       error
	gotSource vision.ImageRef
	gotTarget vision.ImageRef
	gotMin    float64
	calls     int
}

func (s *stubComparator) CompareFaces(ctx context.Context, source, target vision.ImageRef, minSimilarity float64) ([]vision.FaceMatch, error) {
	s.calls++
	s.gotSource = source
	s.gotTarget = target
	s.gotMin = minSimilarity
	if s.err != nil {
		return nil, s.err
	}
	return s.matches, nil
}

type stubRecognizer struct {
	detections []vision.TextDetection
	err        error
	gotImage   vision.ImageRef
}

func (s *stubRecognizer) DetectText(ctx context.Context, image vision.ImageRef) ([]vision.TextDetection, error) {
	s.gotImage = image
	if s.err != nil {
		return nil, s.err
	}
	return s.detections, nil
}

type stubSlotIssuer struct {
	keys []string
	err  error
}

func (s *stubSlotIssuer) PresignPut(ctx context.Context, bucket, key, contentType string, expiry time.Duration) (string, error) {
	s.keys = append(s.keys, key)
	if s.err != nil {
		return "", s.err
	}
	return "https://upload.local/" + bucket + "/" + key, nil
}

func newTestUseCase(repo *stubRepository, cache *stubCache, comparator *stubComparator, recognizer *stubRecognizer, slots *stubSlotIssuer) *VerificationUseCase {
	return NewVerificationUseCase(repo, cache, comparator, recognizer, slots, testBuckets, zap.NewNop())
}

func pendingSubmission() *repository.Submission {
	return &repository.Submission{
		KYCID:           "kyc_ab12cd34",
		DocumentKey:     "original/kyc_ab12cd34_id.jpg",
		DocumentFaceKey: "faces/kyc_ab12cd34_face.jpg",
		SelfieKey:       "selfies/kyc_ab12cd34_selfie.jpg",
		Status:          repository.StatusPendingUpload,
	}
}

func TestVerifyRecordsVerifiedOutcome(t *testing.T) {
	repo := &stubRepository{submission: pendingSubmission()}
	cache := &stubCache{}
	comparator := &stubComparator{matches: []vision.FaceMatch{{Similarity: 92.5}, {Similarity: 84.1}}}
	recognizer := &stubRecognizer{detections: []vision.TextDetection{
		{Text: "GOVERNMENT OF INDIA", Granularity: "LINE"},
		{Text: "Ramesh Kumar", Granularity: "LINE"},
		{Text: "Ramesh", Granularity: "WORD"},
		{Text: "DOB: 12/03/1988", Granularity: "LINE"},
		{Text: "4321 8765 2109", Granularity: "LINE"},
	}}
	uc := newTestUseCase(repo, cache, comparator, recognizer, &stubSlotIssuer{})

	outcome, err := uc.Verify(context.Background(), "kyc_ab12cd34")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if !outcome.FaceMatch || outcome.Similarity != 92.5 {
		t.Fatalf("unexpected face result: %+v", outcome)
	}
	if outcome.Status != repository.StatusVerified {
		t.Fatalf("expected VERIFIED, got %s", outcome.Status)
	}
	if outcome.Extracted.Name != "Ramesh Kumar" || outcome.Extracted.DateOfBirth != "12/03/1988" || outcome.Extracted.IDNumber != "4321 8765 2109" {
		t.Fatalf("unexpected extracted fields: %+v", outcome.Extracted)
	}

	if comparator.gotSource.Bucket != testBuckets.Faces || comparator.gotSource.Key != "faces/kyc_ab12cd34_face.jpg" {
		t.Fatalf("unexpected comparison source: %+v", comparator.gotSource)
	}
	if comparator.gotTarget.Bucket != testBuckets.Selfies {
		t.Fatalf("unexpected comparison target: %+v", comparator.gotTarget)
	}
	if comparator.gotMin != FaceSimilarityThreshold {
		t.Fatalf("expected threshold %d, got %v", FaceSimilarityThreshold, comparator.gotMin)
	}
	if recognizer.gotImage.Bucket != testBuckets.Documents || recognizer.gotImage.Key != "original/kyc_ab12cd34_id.jpg" {
		t.Fatalf("unexpected ocr image: %+v", recognizer.gotImage)
	}

	if len(repo.saved) != 1 {
		t.Fatalf("expected one result write, got %d", len(repo.saved))
	}
	update := repo.saved[0]
	if update.Status != repository.StatusVerified || !update.FaceMatch || update.Similarity != 92.5 {
		t.Fatalf("unexpected update: %+v", update)
	}
	var storedFields extractor.Fields
	if err := json.Unmarshal(update.ExtractedData, &storedFields); err != nil {
		t.Fatalf("stored fields not valid json: %v", err)
	}
	if storedFields != outcome.Extracted {
		t.Fatalf("stored fields %+v differ from outcome %+v", storedFields, outcome.Extracted)
	}

	if len(cache.setKeys) == 0 || cache.setKeys[len(cache.setKeys)-1] != "kyc:result:kyc_ab12cd34" {
		t.Fatalf("expected outcome to be cached, set keys: %v", cache.setKeys)
	}
}

func TestVerifyRejectsWhenNoFaceMatch(t *testing.T) {
	repo := &stubRepository{submission: pendingSubmission()}
	uc := newTestUseCase(repo, &stubCache{}, &stubComparator{}, &stubRecognizer{}, &stubSlotIssuer{})

	outcome, err := uc.Verify(context.Background(), "kyc_ab12cd34")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if outcome.FaceMatch || outcome.Similarity != 0 {
		t.Fatalf("expected no match, got %+v", outcome)
	}
	if outcome.Status != repository.StatusRejected {
		t.Fatalf("expected REJECTED, got %s", outcome.Status)
	}
	if outcome.Extracted.Name != extractor.NotDetected {
		t.Fatalf("expected sentinel name, got %q", outcome.Extracted.Name)
	}
}

func TestVerifyUnknownSubmissionWritesNothing(t *testing.T) {
	repo := &stubRepository{findErr: repository.ErrNotFound}
	uc := newTestUseCase(repo, &stubCache{}, &stubComparator{}, &stubRecognizer{}, &stubSlotIssuer{})

	_, err := uc.Verify(context.Background(), "kyc_missing")
	if !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(repo.saved) != 0 {
		t.Fatalf("expected no writes, got %d", len(repo.saved))
	}
}

func TestVerifyComparatorFailureAbortsBeforeWrite(t *testing.T) {
	repo := &stubRepository{submission: pendingSubmission()}
	comparator := &stubComparator{err: errors.New("source image unreadable")}
	uc := newTestUseCase(repo, &stubCache{}, comparator, &stubRecognizer{}, &stubSlotIssuer{})

	_, err := uc.Verify(context.Background(), "kyc_ab12cd34")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "usecase.compare_faces" {
		t.Fatalf("expected compare_faces operation error, got %v", err)
	}
	if len(repo.saved) != 0 {
		t.Fatalf("expected no writes, got %d", len(repo.saved))
	}
}

func TestVerifyRecognizerFailureAbortsBeforeWrite(t *testing.T) {
	repo := &stubRepository{submission: pendingSubmission()}
	recognizer := &stubRecognizer{err: errors.New("ocr unavailable")}
	uc := newTestUseCase(repo, &stubCache{}, &stubComparator{matches: []vision.FaceMatch{{Similarity: 90}}}, recognizer, &stubSlotIssuer{})

	_, err := uc.Verify(context.Background(), "kyc_ab12cd34")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "usecase.detect_text" {
		t.Fatalf("expected detect_text operation error, got %v", err)
	}
	if len(repo.saved) != 0 {
		t.Fatalf("expected no writes, got %d", len(repo.saved))
	}
}

func TestVerifyTerminalSubmissionOverwrites(t *testing.T) {
	terminal := pendingSubmission()
	terminal.Status = repository.StatusVerified
	repo := &stubRepository{submission: terminal}
	uc := newTestUseCase(repo, &stubCache{}, &stubComparator{matches: []vision.FaceMatch{{Similarity: 88}}}, &stubRecognizer{}, &stubSlotIssuer{})

	for i := 0; i < 2; i++ {
		if _, err := uc.Verify(context.Background(), "kyc_ab12cd34"); err != nil {
			t.Fatalf("verify %d failed: %v", i+1, err)
		}
	}

	// Last writer wins: both runs compute and both write.
	if len(repo.saved) != 2 {
		t.Fatalf("expected both verifies to write, got %d", len(repo.saved))
	}
}

func TestVerifySucceedsWhenCachingFails(t *testing.T) {
	repo := &stubRepository{submission: pendingSubmission()}
	cache := &stubCache{setErrs: []error{errors.New("redis down")}}
	uc := newTestUseCase(repo, cache, &stubComparator{matches: []vision.FaceMatch{{Similarity: 90}}}, &stubRecognizer{}, &stubSlotIssuer{})

	outcome, err := uc.Verify(context.Background(), "kyc_ab12cd34")
	if err != nil {
		t.Fatalf("expected success despite cache failure, got %v", err)
	}
	if outcome.Status != repository.StatusVerified {
		t.Fatalf("unexpected status %s", outcome.Status)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("expected result write, got %d", len(repo.saved))
	}
}

func TestCreateSubmissionIssuesThreeSlots(t *testing.T) {
	repo := &stubRepository{}
	slots := &stubSlotIssuer{}
	uc := newTestUseCase(repo, &stubCache{}, &stubComparator{}, &stubRecognizer{}, slots)

	created, err := uc.CreateSubmission(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if !strings.HasPrefix(created.KYCID, "kyc_") || len(created.KYCID) != len("kyc_")+8 {
		t.Fatalf("unexpected kyc id %q", created.KYCID)
	}
	if len(slots.keys) != 3 {
		t.Fatalf("expected 3 upload slots, got %v", slots.keys)
	}
	if created.Targets.Document == "" || created.Targets.DocumentFace == "" || created.Targets.Selfie == "" {
		t.Fatalf("expected all targets populated: %+v", created.Targets)
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected one record, got %d", len(repo.created))
	}
	record := repo.created[0]
	if record.Status != repository.StatusPendingUpload {
		t.Fatalf("expected PENDING_UPLOAD, got %s", record.Status)
	}
	if record.DocumentKey != "original/"+created.KYCID+"_id.jpg" ||
		record.DocumentFaceKey != "faces/"+created.KYCID+"_face.jpg" ||
		record.SelfieKey != "selfies/"+created.KYCID+"_selfie.jpg" {
		t.Fatalf("unexpected asset keys: %+v", record)
	}
}

func TestCreateSubmissionPresignFailure(t *testing.T) {
	repo := &stubRepository{}
	slots := &stubSlotIssuer{err: errors.New("storage unreachable")}
	uc := newTestUseCase(repo, &stubCache{}, &stubComparator{}, &stubRecognizer{}, slots)

	if _, err := uc.CreateSubmission(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(repo.created) != 0 {
		t.Fatalf("expected no record, got %d", len(repo.created))
	}
}

func TestGetResultFallsBackToRepositoryWhenCacheMiss(t *testing.T) {
	stored := pendingSubmission()
	stored.Status = repository.StatusVerified
	stored.FaceMatch = true
	stored.Similarity = 91.2
	stored.ExtractedData = []byte(`{"name":"Ramesh Kumar","dob":"12/03/1988","id_number":"4321 8765 2109"}`)
	repo := &stubRepository{submission: stored}
	cache := &stubCache{getErrs: []error{errors.New("miss")}}
	uc := newTestUseCase(repo, cache, &stubComparator{}, &stubRecognizer{}, &stubSlotIssuer{})

	outcome, err := uc.GetResult(context.Background(), "kyc_ab12cd34")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if outcome.Status != repository.StatusVerified || !outcome.FaceMatch || outcome.Similarity != 91.2 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Extracted.Name != "Ramesh Kumar" {
		t.Fatalf("unexpected extracted name %q", outcome.Extracted.Name)
	}
}

func TestGetResultUsesCachedOutcome(t *testing.T) {
	cached := `{"kyc_id":"kyc_ab12cd34","face_match":true,"similarity":92.5,"status":"VERIFIED","extracted_data":{"name":"Ramesh Kumar","dob":"Not Detected","id_number":"Not Detected"}}`
	cache := &stubCache{getValues: []string{cached}}
	repo := &stubRepository{findErr: errors.New("should not be called")}
	uc := newTestUseCase(repo, cache, &stubComparator{}, &stubRecognizer{}, &stubSlotIssuer{})

	outcome, err := uc.GetResult(context.Background(), "kyc_ab12cd34")
	if err != nil {
		t.Fatalf("expected cached result, got error: %v", err)
	}
	if outcome.Similarity != 92.5 || outcome.Extracted.Name != "Ramesh Kumar" {
		t.Fatalf("unexpected cached outcome: %+v", outcome)
	}
}

func TestEvaluateFaceMatch(t *testing.T) {
	if match, similarity := EvaluateFaceMatch(nil); match || similarity != 0 {
		t.Fatalf("expected no match for empty candidates, got %v %v", match, similarity)
	}

	match, similarity := EvaluateFaceMatch([]vision.FaceMatch{{Similarity: 92.5}, {Similarity: 81}})
	if !match || similarity != 92.5 {
		t.Fatalf("expected best candidate similarity, got %v %v", match, similarity)
	}
}

func TestGetMetricsSummaryComputesRate(t *testing.T) {
	repo := &stubRepository{aggregation: &repository.MetricsAggregation{
		TotalCount:        10,
		VerifiedCount:     6,
		RejectedCount:     2,
		PendingCount:      2,
		AverageSimilarity: 87.4,
	}}
	uc := newTestUseCase(repo, &stubCache{}, &stubComparator{}, &stubRecognizer{}, &stubSlotIssuer{})

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if summary.VerificationRate != 0.75 {
		t.Fatalf("expected rate 0.75, got %v", summary.VerificationRate)
	}
	if summary.Pending != 2 || summary.AverageSimilarity != 87.4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}
