package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/detscan/internal/mempool"
	"github.com/MeKo-Tech/detscan/internal/onnx"
	"github.com/yalue/onnxruntime_go"
)

// ONNXModel runs a YOLO style detector exported to ONNX.
type ONNXModel struct {
	config     Config
	session    *onnxruntime_go.DynamicAdvancedSession
	inputInfo  onnxruntime_go.InputOutputInfo
	outputInfo onnxruntime_go.InputOutputInfo
	labels     Labels
}

// NewONNXModel loads the model and its labels. A missing model file is
// reported as ErrModelUnavailable.
func NewONNXModel(config Config) (*ONNXModel, error) {
	if config.ModelPath == "" {
		return nil, fmt.Errorf("%w: model path cannot be empty", ErrModelUnavailable)
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: model file not found: %s", ErrModelUnavailable, config.ModelPath)
	}
	if config.InputSize <= 0 {
		config.InputSize = DefaultConfig().InputSize
	}

	labels, err := loadOptionalLabels(config.LabelsPath)
	if err != nil {
		return nil, err
	}

	if err := onnx.EnsureEnvironment(config.GPU.UseGPU); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	inputInfo, outputInfo, err := validateModelInfo(config.ModelPath)
	if err != nil {
		return nil, err
	}

	session, err := createSession(config, inputInfo, outputInfo)
	if err != nil && config.GPU.UseGPU {
		slog.Warn("GPU session failed, falling back to CPU", "error", err)
		config.GPU.UseGPU = false
		session, err = createSession(config, inputInfo, outputInfo)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("ONNX detector loaded",
		"model_path", config.ModelPath,
		"input", inputInfo.Name,
		"output", outputInfo.Name,
		"classes", len(labels))

	return &ONNXModel{
		config:     config,
		session:    session,
		inputInfo:  inputInfo,
		outputInfo: outputInfo,
		labels:     labels,
	}, nil
}

func loadOptionalLabels(path string) (Labels, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Warn("Labels file not found, using class indices", "path", path)
		return nil, nil
	}
	return LoadLabels(path)
}

// validateModelInfo gets and validates model input/output information.
func validateModelInfo(modelPath string) (onnxruntime_go.InputOutputInfo, onnxruntime_go.InputOutputInfo, error) {
	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{},
			fmt.Errorf("%w: failed to get model input/output info: %w", ErrModelUnavailable, err)
	}
	if len(inputs) != 1 {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{},
			fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	if len(outputs) < 1 {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{},
			errors.New("model has no outputs")
	}
	if len(inputs[0].Dimensions) != 4 {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{},
			fmt.Errorf("expected 4D input tensor, got %dD", len(inputs[0].Dimensions))
	}
	return inputs[0], outputs[0], nil
}

// createSession creates the ONNX session with the given configuration.
func createSession(config Config, inputInfo, outputInfo onnxruntime_go.InputOutputInfo,
) (*onnxruntime_go.DynamicAdvancedSession, error) {
	sessionOptions, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := sessionOptions.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()

	if err := onnx.ConfigureSessionForGPU(sessionOptions, config.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}

	if config.NumThreads > 0 {
		if err = sessionOptions.SetIntraOpNumThreads(config.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSession(config.ModelPath,
		[]string{inputInfo.Name}, []string{outputInfo.Name}, sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return session, nil
}

// Predict letterboxes the image, runs the session and decodes the boxes.
func (m *ONNXModel) Predict(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.session == nil {
		return nil, errors.New("detector session is closed")
	}

	boxed, lb, err := letterboxImage(img, m.config.InputSize)
	if err != nil {
		return nil, fmt.Errorf("preprocessing failed: %w", err)
	}

	input := toCHW(boxed)
	defer mempool.PutFloat32(input)
	tensor, err := onnx.NewImageTensor(input, 3, lb.Size, lb.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor: %w", err)
	}

	data, shape, err := m.runInference(tensor)
	if err != nil {
		return nil, err
	}
	defer mempool.PutFloat32(data)

	classes, anchors, err := onnx.ValidateYOLOOutput(shape)
	if err != nil {
		return nil, fmt.Errorf("unexpected model output: %w", err)
	}

	dets, err := decodeYOLO(data, classes, anchors, lb, m.labels, m.config.ConfThreshold)
	if err != nil {
		return nil, err
	}
	return NonMaxSuppression(dets, m.config.IOUThreshold), nil
}

// runInference runs the session and copies the output out of the runtime tensor.
func (m *ONNXModel) runInference(tensor onnx.Tensor) ([]float32, []int64, error) {
	if err := onnx.ValidateNCHW(tensor.Shape); err != nil {
		return nil, nil, fmt.Errorf("invalid tensor: %w", err)
	}

	inputTensor, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(tensor.Shape...), tensor.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := inputTensor.Destroy(); err != nil {
			slog.Warn("Failed to destroy input tensor", "error", err)
		}
	}()

	outputs := []onnxruntime_go.Value{nil}
	if err := m.session.Run([]onnxruntime_go.Value{inputTensor}, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if err := outputs[0].Destroy(); err != nil {
			slog.Warn("Failed to destroy output tensor", "error", err)
		}
	}()

	floatTensor, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("expected float32 tensor, got %T", outputs[0])
	}

	src := floatTensor.GetData()
	data := mempool.GetFloat32(len(src))
	copy(data, src)
	shape := []int64(floatTensor.GetShape())
	return data, shape, nil
}

// ModelInfo returns information about the loaded model.
func (m *ONNXModel) ModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"model_path":   m.config.ModelPath,
		"input_name":   m.inputInfo.Name,
		"output_name":  m.outputInfo.Name,
		"input_shape":  m.inputInfo.Dimensions,
		"output_shape": m.outputInfo.Dimensions,
		"input_size":   m.config.InputSize,
		"classes":      len(m.labels),
		"gpu_enabled":  m.config.GPU.UseGPU,
	}
}

// Close releases the session. The runtime environment stays initialised.
func (m *ONNXModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
