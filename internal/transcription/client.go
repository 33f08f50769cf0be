package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/khatirak/whisper.tflite/internal/server"
)

const maxBackoff = 30 * time.Second

// Client sends WAV files to a running transcription server
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // bounds in-flight uploads

	mu    sync.Mutex
	stats ClientStats
	spent time.Duration // summed latency of successful uploads
}

// Config contains transcription client configuration
type Config struct {
	Endpoint      string // e.g. http://localhost:8080/transcribe
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	RetryBackoff  time.Duration // first retry delay, doubled per attempt
}

// Response is the server's reply to a successful upload
type Response = server.TranscriptionResponse

// HTTPError is a non-2xx reply from the server
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	// Create semaphore for rate limiting
	semaphore := make(chan struct{}, config.MaxConcurrent)

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  semaphore,
	}, nil
}

// TranscribeFile uploads the WAV file at path
func (c *Client) TranscribeFile(ctx context.Context, path string) (*Response, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return c.Transcribe(ctx, filepath.Base(path), data)
}

// Transcribe uploads WAV bytes, retrying server-side and network failures
func (c *Client) Transcribe(ctx context.Context, filename string, wav []byte) (*Response, error) {
	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.update(func(s *ClientStats) { s.TotalRequests++ })

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.update(func(s *ClientStats) { s.TotalRetries++ })

			select {
			case <-time.After(backoff(c.config.RetryBackoff, attempt)):
			case <-ctx.Done():
				c.update(func(s *ClientStats) { s.FailedRequests++ })
				return nil, ctx.Err()
			}
		}

		response, err := c.doRequest(ctx, filename, wav)
		if err == nil {
			c.recordSuccess(time.Since(startTime))
			return response, nil
		}

		lastErr = err

		// Check if error is retryable
		if !isRetryableError(err) {
			break
		}
	}

	c.update(func(s *ClientStats) { s.FailedRequests++ })
	return nil, fmt.Errorf("transcription failed: %w", lastErr)
}

// doRequest performs a single upload
func (c *Client) doRequest(ctx context.Context, filename string, wav []byte) (*Response, error) {
	body, contentType, err := createMultipartRequest(filename, wav)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "whisper-tflite-client/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	}

	var transcriptionResp Response
	if err := json.Unmarshal(respBody, &transcriptionResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return &transcriptionResp, nil
}

// createMultipartRequest puts the WAV bytes in the "file" field
func createMultipartRequest(filename string, wav []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// backoff doubles base for each retry after the first, capped at maxBackoff
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// isRetryableError reports whether a failed attempt may succeed when repeated
func isRetryableError(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// 5xx server errors and rate limiting are retryable; 503 covers a server still loading its model
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Network/connection errors are typically retryable
	var netErr net.Error
	var opErr *net.OpError
	return errors.As(err, &netErr) || errors.As(err, &opErr)
}

func (c *Client) update(fn func(*ClientStats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.stats)
}

// recordSuccess counts a successful upload, retries and backoff included in its latency
func (c *Client) recordSuccess(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.SuccessRequests++
	c.spent += latency
	c.stats.AvgResponseTime = c.spent / time.Duration(c.stats.SuccessRequests)
}

// GetStats returns a snapshot of the client's counters
func (c *Client) GetStats() ClientStats {
	c.mu.Lock()
	stats := c.stats
	c.mu.Unlock()

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessRequests) / float64(stats.TotalRequests) * 100
	}
	stats.ActiveRequests = len(c.semaphore)
	return stats
}

// Close waits for in-flight requests to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}

	c.httpClient.CloseIdleConnections()
	return nil
}
