package visionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/kyc-check/internal/logging"
	"github.com/example/kyc-check/internal/vision"
)

// Client calls the vision service (face comparison and OCR) over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// APIError represents a vision service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vision service returned %d: %s", e.Status, e.Message)
}

// NewClient constructs a vision service client.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.Named("visionclient"),
	}
}

type imageRefPayload struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type compareFacesRequest struct {
	Source        imageRefPayload `json:"source"`
	Target        imageRefPayload `json:"target"`
	MinSimilarity float64         `json:"min_similarity"`
}

type compareFacesResponse struct {
	Matches []struct {
		Similarity float64 `json:"similarity"`
	} `json:"matches"`
}

type detectTextRequest struct {
	Image imageRefPayload `json:"image"`
}

type detectTextResponse struct {
	Detections []struct {
		Text        string `json:"text"`
		Granularity string `json:"granularity"`
	} `json:"detections"`
}

// CompareFaces asks the vision service to compare a document face crop
// against a selfie. Candidates below minSimilarity are filtered upstream
// and the response is ordered best match first.
func (c *Client) CompareFaces(ctx context.Context, source, target vision.ImageRef, minSimilarity float64) ([]vision.FaceMatch, error) {
	req := compareFacesRequest{
		Source:        imageRefPayload{Bucket: source.Bucket, Key: source.Key},
		Target:        imageRefPayload{Bucket: target.Bucket, Key: target.Key},
		MinSimilarity: minSimilarity,
	}

	var resp compareFacesResponse
	if err := c.post(ctx, "/v1/compare-faces", req, &resp); err != nil {
		wrapped := logging.NewOperationError("visionclient.compare_faces", "", err)
		c.logger.Error("compare faces failed", zap.Error(wrapped), zap.String("source_key", source.Key))
		return nil, wrapped
	}

	matches := make([]vision.FaceMatch, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		matches = append(matches, vision.FaceMatch{Similarity: m.Similarity})
	}
	return matches, nil
}

// DetectText runs OCR over a stored document image.
func (c *Client) DetectText(ctx context.Context, image vision.ImageRef) ([]vision.TextDetection, error) {
	req := detectTextRequest{Image: imageRefPayload{Bucket: image.Bucket, Key: image.Key}}

	var resp detectTextResponse
	if err := c.post(ctx, "/v1/detect-text", req, &resp); err != nil {
		wrapped := logging.NewOperationError("visionclient.detect_text", "", err)
		c.logger.Error("detect text failed", zap.Error(wrapped), zap.String("key", image.Key))
		return nil, wrapped
	}

	detections := make([]vision.TextDetection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		detections = append(detections, vision.TextDetection{Text: d.Text, Granularity: d.Granularity})
	}
	return detections, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
