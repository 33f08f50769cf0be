// Package inference defines the boundary to the TFLite interpreter that runs the
// Whisper model. The real interpreter is only compiled in with the "tflite" build
// tag, which requires the TensorFlow Lite C library; default builds get a stub
// that reports ErrUnavailable.
package inference
