// Package audio reads WAV containers and normalizes them into mono float32
// samples at the 16 kHz rate the Whisper encoder expects.
// It handles chunk scanning, 16-bit PCM and IEEE float payloads, channel
// mixdown and linear resampling, and can write 16-bit PCM WAV files back out.
package audio
