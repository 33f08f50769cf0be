// Package token turns the integer token ids produced by the Whisper decoder into text.
package token
