package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"time"

	"github.com/Tutortoise/deepfake-detector/models"

	ort "github.com/yalue/onnxruntime_go"
)

// Session runs one forward pass over a preprocessed tensor.
type Session interface {
	Predict(input []float32) (float32, error)
	Destroy()
}

type SessionConfig struct {
	ModelPath      string
	InputName      string
	OutputName     string
	InputShape     []int64
	IntraOpThreads int
	InterOpThreads int
}

type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

// NewModelSession loads the model and binds fixed input and output tensors
// to it. The ONNX environment must already be initialized.
func NewModelSession(cfg SessionConfig) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	intra, inter := cfg.IntraOpThreads, cfg.InterOpThreads
	if intra <= 0 {
		intra = runtime.NumCPU()
	}
	if inter <= 0 {
		inter = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(intra); err != nil {
		return nil, fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(inter); err != nil {
		return nil, fmt.Errorf("error setting inter-op threads: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(cfg.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}

func (m *ModelSession) Predict(input []float32) (float32, error) {
	data := m.Input.GetData()
	if len(input) != len(data) {
		return 0, fmt.Errorf("input has %d values, model expects %d", len(input), len(data))
	}
	copy(data, input)

	if err := m.Session.Run(); err != nil {
		return 0, fmt.Errorf("model inference: %w", err)
	}

	out := m.Output.GetData()
	if len(out) == 0 {
		return 0, errors.New("model produced no output")
	}
	return out[0], nil
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// ProcessImage runs the whole preprocess, inference and threshold pipeline
// for one decoded image.
func ProcessImage(ctx context.Context, img image.Image, pre *Preprocessor, model Session, timings *models.ProcessingTimings) (models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return models.Prediction{}, err
	}

	resizeStart := time.Now()
	resized := pre.Resize(img)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	input := pre.Normalize(resized)
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	score, err := model.Predict(input)
	if err != nil {
		return models.Prediction{}, err
	}
	timings.Inference = time.Since(inferStart)

	return Decide(score)
}
