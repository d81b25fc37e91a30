package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/example/kyc-check/internal/logging"
)

// Submission statuses. A record starts at PENDING_UPLOAD and transitions to
// one terminal status when verification runs.
const (
	StatusPendingUpload = "PENDING_UPLOAD"
	StatusVerified      = "VERIFIED"
	StatusRejected      = "REJECTED"
)

// ErrNotFound is returned when no submission exists for a kyc_id.
var ErrNotFound = errors.New("submission not found")

// Submission represents one persisted verification attempt.
type Submission struct {
	ID              uint           `gorm:"primaryKey"`
	KYCID           string         `gorm:"column:kyc_id;uniqueIndex;size:32"`
	DocumentKey     string         `gorm:"column:document_key;size:128"`
	DocumentFaceKey string         `gorm:"column:document_face_key;size:128"`
	SelfieKey       string         `gorm:"column:selfie_key;size:128"`
	Status          string         `gorm:"column:status;size:16"`
	FaceMatch       bool           `gorm:"column:face_match"`
	Similarity      float64        `gorm:"column:similarity"`
	ExtractedData   datatypes.JSON `gorm:"column:extracted_data"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (Submission) TableName() string {
	return "kyc_submissions"
}

// ResultUpdate carries the terminal fields written by a verification run.
type ResultUpdate struct {
	FaceMatch     bool
	Similarity    float64
	Status        string
	ExtractedData datatypes.JSON
}

// MetricsAggregation holds aggregate counters over all submissions.
type MetricsAggregation struct {
	TotalCount        int64
	VerifiedCount     int64
	RejectedCount     int64
	PendingCount      int64
	AverageSimilarity float64
}

// SubmissionRepository provides persistence APIs for submissions.
type SubmissionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewSubmissionRepository creates a new repository instance.
func NewSubmissionRepository(db *gorm.DB, logger *zap.Logger) *SubmissionRepository {
	return &SubmissionRepository{
		db:             db,
		logger:         logger.Named("submission_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *SubmissionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Submission{})
}

// CreateSubmission persists a new PENDING_UPLOAD record.
func (r *SubmissionRepository) CreateSubmission(ctx context.Context, submission *Submission) error {
	return r.executeWithRetry(ctx, "repository.create_submission", submission.KYCID, func() error {
		return r.db.WithContext(ctx).Create(submission).Error
	})
}

// FindByKYCID retrieves a submission by its public identifier.
func (r *SubmissionRepository) FindByKYCID(ctx context.Context, kycID string) (*Submission, error) {
	var submission Submission
	err := r.executeWithRetry(ctx, "repository.find_by_kyc_id", kycID, func() error {
		return r.db.WithContext(ctx).First(&submission, "kyc_id = ?", kycID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &submission, nil
}

// SaveResult writes the terminal outcome in a single update. There is no
// conditional check on the current status: a repeated verify for the same
// kyc_id overwrites the record, last writer wins.
func (r *SubmissionRepository) SaveResult(ctx context.Context, kycID string, update ResultUpdate) error {
	return r.executeWithRetry(ctx, "repository.save_result", kycID, func() error {
		return r.db.WithContext(ctx).Model(&Submission{}).Where("kyc_id = ?", kycID).
			Updates(map[string]interface{}{
				"face_match":     update.FaceMatch,
				"similarity":     update.Similarity,
				"status":         update.Status,
				"extracted_data": update.ExtractedData,
				"updated_at":     time.Now().UTC(),
			}).Error
	})
}

// AggregateMetrics summarizes submission counts and similarity over all records.
func (r *SubmissionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var aggregation MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&Submission{}).
			Select(
				"count(*) as total_count, "+
					"count(case when status = ? then 1 end) as verified_count, "+
					"count(case when status = ? then 1 end) as rejected_count, "+
					"count(case when status = ? then 1 end) as pending_count, "+
					"coalesce(avg(case when status in (?, ?) then similarity end), 0) as average_similarity",
				StatusVerified, StatusRejected, StatusPendingUpload, StatusVerified, StatusRejected,
			).
			Scan(&aggregation).Error
	})
	if err != nil {
		return nil, err
	}
	return &aggregation, nil
}

func (r *SubmissionRepository) executeWithRetry(ctx context.Context, operation, kycID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, kycID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, kycID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, kycID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			return logging.NewOperationError(operation, kycID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, kycID, err)
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
