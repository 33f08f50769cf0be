package engine

import "errors"

var (
	// ErrNotInitialized is returned when transcribing before a model is loaded
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrUnsupportedWindow is returned when the configured window differs from the model's fixed input
	ErrUnsupportedWindow = errors.New("unsupported window length")

	// ErrModelFileUnreadable is returned when the model file cannot be read
	ErrModelFileUnreadable = errors.New("model file unreadable")

	// ErrEngineBuildFailed is returned when the interpreter cannot be built or its tensors allocated.
	// The engine is unusable afterwards.
	ErrEngineBuildFailed = errors.New("inference engine build failed")

	// ErrFeatureExtractionFailed is returned when the spectrogram cannot be computed or does not fit the input tensor
	ErrFeatureExtractionFailed = errors.New("feature extraction failed")

	// ErrInferenceFailed is returned when the interpreter fails to run or its output cannot be read
	ErrInferenceFailed = errors.New("inference failed")
)
