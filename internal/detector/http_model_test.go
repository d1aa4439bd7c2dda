package detector

import (
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/detscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInferenceServer(t *testing.T, status int, body interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		file, header, err := r.FormFile("file")
		if assert.NoError(t, err) {
			assert.Equal(t, "image.jpg", header.Filename)
			_ = file.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func httpConfig(endpoint string) Config {
	cfg := DefaultConfig()
	cfg.Backend = BackendHTTP
	cfg.Endpoint = endpoint
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func TestHTTPModelPredict(t *testing.T) {
	srv := newInferenceServer(t, http.StatusOK, map[string]interface{}{
		"detections": []map[string]interface{}{
			{"class": "car", "confidence": 0.5, "x1": 1, "y1": 2, "x2": 30, "y2": 40},
			{"class": "sign", "confidence": 0.95, "x1": 5, "y1": 5, "x2": 15, "y2": 15},
		},
	})

	m, err := NewHTTPModel(httpConfig(srv.URL))
	require.NoError(t, err)

	dets, err := m.Predict(context.Background(), testutil.CreateTestImage(64, 64, color.White))
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, "sign", dets[0].Label)
	assert.Equal(t, Box{X1: 1, Y1: 2, X2: 30, Y2: 40}, dets[1].Box)

	require.NoError(t, m.CheckHealth(context.Background()))
	require.NoError(t, m.Close())
}

func TestHTTPModelErrorStatus(t *testing.T) {
	srv := newInferenceServer(t, http.StatusInternalServerError, map[string]string{"error": "gpu on fire"})
	m, err := NewHTTPModel(httpConfig(srv.URL))
	require.NoError(t, err)

	_, err = m.Predict(context.Background(), testutil.CreateTestImage(8, 8, color.White))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPModelUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m, err := NewHTTPModel(httpConfig(url))
	require.NoError(t, err)

	_, err = m.Predict(context.Background(), testutil.CreateTestImage(8, 8, color.White))
	require.ErrorIs(t, err, ErrModelUnavailable)
}

func TestNewHTTPModelValidation(t *testing.T) {
	_, err := NewHTTPModel(httpConfig(""))
	require.ErrorIs(t, err, ErrModelUnavailable)

	_, err = NewHTTPModel(httpConfig("not a url"))
	require.Error(t, err)
}

func TestAdapterWithHTTPBackend(t *testing.T) {
	srv := newInferenceServer(t, http.StatusOK, map[string]interface{}{
		"detections": []map[string]interface{}{
			{"class": "sign", "confidence": 0.8, "x1": 10, "y1": 10, "x2": 500, "y2": 20},
		},
	})
	adapter := NewAdapter(httpConfig(srv.URL), nil)

	dets, err := adapter.Detect(context.Background(), writeImage(t, 100, 50))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.InDelta(t, 100, dets[0].Box.X2, 1e-9)
}
