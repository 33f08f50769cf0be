// Package engine ties asset decoding, audio normalization, feature extraction, inference
// and token decoding into a loadable, thread-safe transcription engine.
package engine
