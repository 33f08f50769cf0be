package inference

import "errors"

// ErrUnavailable is returned by NewTFLite when the binary was built without the tflite tag.
var ErrUnavailable = errors.New("tflite runtime not compiled in (rebuild with -tags tflite)")

// Interpreter is a model instance with typed tensor access.
type Interpreter interface {
	AllocateTensors() error
	SetNumThreads(n int)
	Invoke() error

	// InputFloat32s returns the backing storage of input tensor index.
	InputFloat32s(index int) ([]float32, error)

	// OutputInt32s returns the backing storage of output tensor index.
	OutputInt32s(index int) ([]int32, error)

	OutputDims(index int) []int
	Close()
}

// Builder constructs an interpreter from a flatbuffer model held in memory.
// The buffer must stay alive and unmodified for the interpreter's lifetime.
type Builder func(model []byte, threads int) (Interpreter, error)

var _ Builder = NewTFLite
