package models

import "time"

type Prediction struct {
	Score      float32
	Label      string
	Confidence float32
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Total       time.Duration
}
