package classifier

import (
	"errors"
	"fmt"
	"math"

	"github.com/Tutortoise/deepfake-detector/models"
)

var ErrInvalidScore = errors.New("model returned an invalid score")

// Decide maps a raw model score to a label and confidence. Scores outside
// [0,1] are clamped so confidence always lies in [0.5,1].
func Decide(score float32) (models.Prediction, error) {
	if math.IsNaN(float64(score)) {
		return models.Prediction{}, fmt.Errorf("%w: NaN", ErrInvalidScore)
	}
	score = clamp01(score)

	if score >= Threshold {
		return models.Prediction{Score: score, Label: LabelReal, Confidence: score}, nil
	}
	return models.Prediction{Score: score, Label: LabelFake, Confidence: 1 - score}, nil
}

func clamp01(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
