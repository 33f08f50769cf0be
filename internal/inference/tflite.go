//go:build tflite

package inference

import (
	"fmt"

	"github.com/mattn/go-tflite"
)

type tfliteInterpreter struct {
	buf     []byte
	model   *tflite.Model
	options *tflite.InterpreterOptions
	interp  *tflite.Interpreter
	threads int
}

// NewTFLite builds a TensorFlow Lite interpreter over model.
func NewTFLite(model []byte, threads int) (Interpreter, error) {
	m := tflite.NewModel(model)
	if m == nil {
		return nil, fmt.Errorf("failed to build model from %d-byte buffer", len(model))
	}

	opts := tflite.NewInterpreterOptions()
	if threads > 0 {
		opts.SetNumThread(threads)
	}

	interp := tflite.NewInterpreter(m, opts)
	if interp == nil {
		opts.Delete()
		m.Delete()
		return nil, fmt.Errorf("failed to create interpreter")
	}

	return &tfliteInterpreter{
		buf:     model,
		model:   m,
		options: opts,
		interp:  interp,
		threads: threads,
	}, nil
}

func (t *tfliteInterpreter) AllocateTensors() error {
	if status := t.interp.AllocateTensors(); status != tflite.OK {
		return fmt.Errorf("allocate tensors: status %v", status)
	}
	return nil
}

// SetNumThreads only takes effect at construction; the C API has no runtime setter.
func (t *tfliteInterpreter) SetNumThreads(n int) {
	t.threads = n
}

func (t *tfliteInterpreter) Invoke() error {
	if status := t.interp.Invoke(); status != tflite.OK {
		return fmt.Errorf("invoke: status %v", status)
	}
	return nil
}

func (t *tfliteInterpreter) InputFloat32s(index int) ([]float32, error) {
	tensor := t.interp.GetInputTensor(index)
	if tensor == nil {
		return nil, fmt.Errorf("no input tensor %d", index)
	}
	if tensor.Type() != tflite.Float32 {
		return nil, fmt.Errorf("input tensor %d has type %v, want float32", index, tensor.Type())
	}
	return tensor.Float32s(), nil
}

func (t *tfliteInterpreter) OutputInt32s(index int) ([]int32, error) {
	tensor := t.interp.GetOutputTensor(index)
	if tensor == nil {
		return nil, fmt.Errorf("no output tensor %d", index)
	}
	if tensor.Type() != tflite.Int32 {
		return nil, fmt.Errorf("output tensor %d has type %v, want int32", index, tensor.Type())
	}
	return tensor.Int32s(), nil
}

func (t *tfliteInterpreter) OutputDims(index int) []int {
	tensor := t.interp.GetOutputTensor(index)
	if tensor == nil {
		return nil
	}
	dims := make([]int, tensor.NumDims())
	for i := range dims {
		dims[i] = tensor.Dim(i)
	}
	return dims
}

func (t *tfliteInterpreter) Close() {
	if t.interp != nil {
		t.interp.Delete()
		t.interp = nil
	}
	if t.options != nil {
		t.options.Delete()
		t.options = nil
	}
	if t.model != nil {
		t.model.Delete()
		t.model = nil
	}
	t.buf = nil
}
