package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/example/kyc-check/internal/extractor"
	"github.com/example/kyc-check/internal/logging"
	"github.com/example/kyc-check/internal/objectstore"
	"github.com/example/kyc-check/internal/repository"
	"github.com/example/kyc-check/internal/vision"
)

// FaceSimilarityThreshold is handed to the face comparator; candidates below
// it never reach the evaluator.
const FaceSimilarityThreshold = 80

const (
	uploadSlotTTL     = 5 * time.Minute
	uploadContentType = "image/jpeg"
	resultCacheTTL    = 5 * time.Minute
)

// ErrSubmissionNotFound is returned when no submission exists for a kyc_id.
var ErrSubmissionNotFound = repository.ErrNotFound

// SubmissionRepository defines the persistence operations needed by the use case.
type SubmissionRepository interface {
	CreateSubmission(ctx context.Context, submission *repository.Submission) error
	FindByKYCID(ctx context.Context, kycID string) (*repository.Submission, error)
	SaveResult(ctx context.Context, kycID string, update repository.ResultUpdate) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Buckets names the object storage buckets holding the three submission assets.
type Buckets struct {
	Documents string
	Faces     string
	Selfies   string
}

// UploadTargets carries the presigned PUT URLs for one submission.
type UploadTargets struct {
	Document     string `json:"orig_url"`
	DocumentFace string `json:"face_url"`
	Selfie       string `json:"selfie_url"`
}

// NewSubmission is the result of creating a submission.
type NewSubmission struct {
	KYCID   string
	Targets UploadTargets
}

// VerificationOutcome is the terminal result of a verify run.
type VerificationOutcome struct {
	KYCID      string           `json:"kyc_id"`
	FaceMatch  bool             `json:"face_match"`
	Similarity float64          `json:"similarity"`
	Status     string           `json:"status"`
	Extracted  extractor.Fields `json:"extracted_data"`
	CreatedAt  time.Time        `json:"created_at"`
}

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	repo           SubmissionRepository
	cache          Cache
	comparator     vision.FaceComparator
	recognizer     vision.TextRecognizer
	slots          objectstore.UploadSlotIssuer
	buckets        Buckets
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(
	repo SubmissionRepository,
	cache Cache,
	comparator vision.FaceComparator,
	recognizer vision.TextRecognizer,
	slots objectstore.UploadSlotIssuer,
	buckets Buckets,
	logger *zap.Logger,
) *VerificationUseCase {
	return &VerificationUseCase{
		repo:           repo,
		cache:          cache,
		comparator:     comparator,
		recognizer:     recognizer,
		slots:          slots,
		buckets:        buckets,
		logger:         logger.Named("verification_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// CreateSubmission mints a kyc_id, issues presigned upload slots for the three
// assets, and persists a PENDING_UPLOAD record.
func (uc *VerificationUseCase) CreateSubmission(ctx context.Context) (*NewSubmission, error) {
	kycID := "kyc_" + uuid.NewString()[:8]
	opLogger := logging.WithOperation(uc.logger, "usecase.create_submission", kycID)

	documentKey := fmt.Sprintf("original/%s_id.jpg", kycID)
	faceKey := fmt.Sprintf("faces/%s_face.jpg", kycID)
	selfieKey := fmt.Sprintf("selfies/%s_selfie.jpg", kycID)

	targets := UploadTargets{}
	slots := []struct {
		bucket string
		key    string
		dest   *string
	}{
		{uc.buckets.Documents, documentKey, &targets.Document},
		{uc.buckets.Faces, faceKey, &targets.DocumentFace},
		{uc.buckets.Selfies, selfieKey, &targets.Selfie},
	}
	for _, slot := range slots {
		url, err := uc.slots.PresignPut(ctx, slot.bucket, slot.key, uploadContentType, uploadSlotTTL)
		if err != nil {
			wrapped := logging.NewOperationError("usecase.presign_upload", kycID, err)
			opLogger.Error("failed to issue upload slot", zap.Error(wrapped), zap.String("key", slot.key))
			return nil, wrapped
		}
		*slot.dest = url
	}

	submission := &repository.Submission{
		KYCID:           kycID,
		DocumentKey:     documentKey,
		DocumentFaceKey: faceKey,
		SelfieKey:       selfieKey,
		Status:          repository.StatusPendingUpload,
	}
	if err := uc.repo.CreateSubmission(ctx, submission); err != nil {
		opLogger.Error("failed to persist submission", zap.Error(err))
		return nil, err
	}

	return &NewSubmission{KYCID: kycID, Targets: targets}, nil
}

// Verify runs face comparison and document text extraction for a submission
// and records the terminal outcome in a single update. A repeated call for an
// already-terminal submission runs again and overwrites, last writer wins.
func (uc *VerificationUseCase) Verify(ctx context.Context, kycID string) (*VerificationOutcome, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.verify", kycID)

	submission, err := uc.repo.FindByKYCID(ctx, kycID)
	if err != nil {
		return nil, err
	}

	matches, err := uc.comparator.CompareFaces(ctx,
		vision.ImageRef{Bucket: uc.buckets.Faces, Key: submission.DocumentFaceKey},
		vision.ImageRef{Bucket: uc.buckets.Selfies, Key: submission.SelfieKey},
		FaceSimilarityThreshold,
	)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.compare_faces", kycID, err)
		opLogger.Error("face comparison failed", zap.Error(wrapped))
		return nil, wrapped
	}
	match, similarity := EvaluateFaceMatch(matches)

	detections, err := uc.recognizer.DetectText(ctx,
		vision.ImageRef{Bucket: uc.buckets.Documents, Key: submission.DocumentKey},
	)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.detect_text", kycID, err)
		opLogger.Error("text detection failed", zap.Error(wrapped))
		return nil, wrapped
	}
	fields := extractor.Extract(extractor.Lines(detections))

	status := repository.StatusRejected
	if match {
		status = repository.StatusVerified
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, logging.NewOperationError("usecase.encode_fields", kycID, err)
	}
	update := repository.ResultUpdate{
		FaceMatch:     match,
		Similarity:    similarity,
		Status:        status,
		ExtractedData: datatypes.JSON(payload),
	}
	if err := uc.repo.SaveResult(ctx, kycID, update); err != nil {
		opLogger.Error("failed to persist verification result", zap.Error(err))
		return nil, err
	}

	outcome := &VerificationOutcome{
		KYCID:      kycID,
		FaceMatch:  match,
		Similarity: similarity,
		Status:     status,
		Extracted:  fields,
		CreatedAt:  submission.CreatedAt,
	}
	uc.cacheOutcome(ctx, kycID, outcome)

	return outcome, nil
}

// GetResult retrieves a recorded outcome, cache first, store second.
func (uc *VerificationUseCase) GetResult(ctx context.Context, kycID string) (*VerificationOutcome, error) {
	cacheKey := resultCacheKey(kycID)
	if cached, err := uc.withRedisGet(ctx, kycID, "cache.get.result", cacheKey); err == nil {
		var outcome VerificationOutcome
		if err := json.Unmarshal([]byte(cached), &outcome); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", kycID).Warn("failed to decode cached result", zap.Error(err))
		} else {
			return &outcome, nil
		}
	}

	submission, err := uc.repo.FindByKYCID(ctx, kycID)
	if err != nil {
		return nil, err
	}

	outcome := &VerificationOutcome{
		KYCID:      submission.KYCID,
		FaceMatch:  submission.FaceMatch,
		Similarity: submission.Similarity,
		Status:     submission.Status,
		CreatedAt:  submission.CreatedAt,
	}
	outcome.Extracted = extractor.Fields{
		Name:        extractor.NotDetected,
		DateOfBirth: extractor.NotDetected,
		IDNumber:    extractor.NotDetected,
	}
	if len(submission.ExtractedData) > 0 {
		if err := json.Unmarshal(submission.ExtractedData, &outcome.Extracted); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", kycID).Warn("failed to decode stored fields", zap.Error(err))
		}
	}
	return outcome, nil
}

// cacheOutcome stores the outcome for fast result reads. The record is
// already persisted at this point, so a cache failure is logged and dropped.
func (uc *VerificationUseCase) cacheOutcome(ctx context.Context, kycID string, outcome *VerificationOutcome) {
	serialized, err := json.Marshal(outcome)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_outcome", kycID).Warn("failed to serialize outcome", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, kycID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultCacheKey(kycID), string(serialized), resultCacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_outcome", kycID).Warn("failed to cache outcome", zap.Error(err))
	}
}

func resultCacheKey(kycID string) string {
	return fmt.Sprintf("kyc:result:%s", kycID)
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, kycID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, kycID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, kycID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, kycID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, kycID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, kycID, err)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, kycID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, kycID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
