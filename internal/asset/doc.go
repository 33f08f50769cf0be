// Package asset decodes the binary filters/vocabulary asset shipped next to a Whisper TFLite model.
// It yields the mel filter bank used by feature extraction and the id-to-token vocabulary used to
// turn model output back into text, including the synthesized tail of special tokens.
package asset
