package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/disintegration/imaging"
)

// HTTPModel sends images to an external inference service.
//
// The service receives a multipart POST with the image in the "file" field
// and answers with
//
//	{"detections":[{"class":"car","confidence":0.91,"x1":10,"y1":20,"x2":110,"y2":80}]}
type HTTPModel struct {
	endpoint string
	client   *http.Client
}

type wireDetection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
}

// NewHTTPModel validates the endpoint. No request is made until Predict.
func NewHTTPModel(cfg Config) (*HTTPModel, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: inference endpoint is not configured", ErrModelUnavailable)
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid inference endpoint %q", cfg.Endpoint)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().RequestTimeout
	}
	return &HTTPModel{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Predict posts the image as JPEG and decodes the returned detections.
func (m *HTTPModel) Predict(ctx context.Context, img image.Image) ([]Detection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := imaging.Encode(part, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %w", ErrModelUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	dets := make([]Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		if d.Class == "" {
			return nil, errors.New("inference service returned a detection without class")
		}
		dets = append(dets, Detection{
			Label:      d.Class,
			Confidence: d.Confidence,
			Box:        Box{X1: d.X1, Y1: d.Y1, X2: d.X2, Y2: d.Y2},
		})
	}
	sortByConfidenceDesc(dets)
	return dets, nil
}

// CheckHealth calls <endpoint>/health.
func (m *HTTPModel) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(m.endpoint, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op.
func (m *HTTPModel) Close() error {
	return nil
}
