package classifier

const (
	InputWidth    = 256
	InputHeight   = 256
	InputChannels = 3
	InputSize     = InputWidth * InputHeight * InputChannels

	// Threshold is the score at and above which an image is labelled real.
	Threshold = 0.5
)

const (
	LabelReal = "Real"
	LabelFake = "Fake"
)

// Tensor layouts accepted by the preprocessor.
const (
	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"
)
