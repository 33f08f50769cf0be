// Package transcription provides an HTTP client for a running transcription server,
// with bounded concurrency and retries on transient failures.
package transcription
