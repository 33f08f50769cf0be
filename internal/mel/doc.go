// Package mel computes the log-mel spectrogram the Whisper encoder consumes.
//
// Frames are Hann-windowed, transformed with a real FFT and projected onto the
// filter bank decoded from the model asset. The result is log10-compressed,
// clamped to 8 decades below its peak and rescaled with (x+4)/4. Frames are
// processed in parallel; the output does not depend on the parallelism.
package mel
