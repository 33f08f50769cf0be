//go:build !tflite

package inference

// NewTFLite always fails in builds without the tflite tag.
func NewTFLite(model []byte, threads int) (Interpreter, error) {
	return nil, ErrUnavailable
}
