package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/skypro1111/speechcap/internal/audio"
	"github.com/skypro1111/speechcap/internal/metrics"
	"github.com/skypro1111/speechcap/internal/transcript"
)

const (
	serviceASR         = "asr"
	serviceDiarization = "diarization"
)

// Client sends audio to the recognition and diarization services
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // bounds concurrent requests
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	ASREndpoint         string
	DiarizationEndpoint string
	APIKey              string // sent as a bearer token when set
	Timeout             time.Duration
	MaxRetries          int
	MaxConcurrent       int
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
}

// HTTPError is a non-2xx response from a service
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// asrResponse is the recognition service reply. Services that return tokens
// instead of segments get them grouped into sentences.
type asrResponse struct {
	Text     string                    `json:"text"`
	Duration float64                   `json:"duration"`
	Segments []transcript.RawASRSegment `json:"segments"`
	Tokens   []transcript.TokenTiming  `json:"tokens"`
}

type diarizationResponse struct {
	Segments []transcript.RawDiarizationSegment `json:"segments"`
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
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.ASREndpoint == "" {
		return nil, fmt.Errorf("asr endpoint cannot be empty")
	}

	if config.DiarizationEndpoint == "" {
		return nil, fmt.Errorf("diarization endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 300 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}

	if config.BaseBackoff <= 0 {
		config.BaseBackoff = time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger,
		metrics:    m,
	}, nil
}

// Transcribe recognizes speech in mono samples
func (c *Client) Transcribe(ctx context.Context, samples []float32, sampleRate int) ([]transcript.RawASRSegment, error) {
	body, err := c.post(ctx, serviceASR, c.config.ASREndpoint, samples, sampleRate)
	if err != nil {
		return nil, err
	}

	var resp asrResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse asr response: %w", err)
	}

	if len(resp.Segments) > 0 {
		return resp.Segments, nil
	}
	return transcript.GroupTokens(resp.Tokens, resp.Text, resp.Duration), nil
}

// Diarize splits mono samples into anonymous speaker spans
func (c *Client) Diarize(ctx context.Context, samples []float32, sampleRate int) ([]transcript.RawDiarizationSegment, error) {
	body, err := c.post(ctx, serviceDiarization, c.config.DiarizationEndpoint, samples, sampleRate)
	if err != nil {
		return nil, err
	}

	var resp diarizationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse diarization response: %w", err)
	}
	if resp.Segments == nil {
		resp.Segments = []transcript.RawDiarizationSegment{}
	}
	return resp.Segments, nil
}

// post uploads samples as a WAV file, retrying transport errors and 5xx/429
// responses with exponential backoff
func (c *Client) post(ctx context.Context, service, endpoint string, samples []float32, sampleRate int) ([]byte, error) {
	wav, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audio: %w", err)
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()
	c.metrics.RecordTranscriptionRequest(service)

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			c.metrics.RecordTranscriptionRetry(service)

			backoff := c.backoff(attempt)
			c.logger.Warn("Retrying request",
				slog.String("service", service),
				slog.Int("attempt", attempt),
				slog.String("backoff", backoff.String()),
				slog.Any("error", lastErr),
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.recordFailure(service, startTime)
				return nil, ctx.Err()
			}
		}

		body, err := c.doRequest(ctx, endpoint, wav, sampleRate)
		if err == nil {
			elapsed := time.Since(startTime)
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(elapsed)
			c.metrics.RecordTranscriptionSuccess(service, elapsed.Seconds())
			c.logger.Debug("Request completed",
				slog.String("service", service),
				slog.String("duration", elapsed.String()),
				slog.Int("attempts", attempt+1),
			)
			return body, nil
		}

		lastErr = err

		if ctx.Err() != nil || !isRetryableError(err) {
			break
		}
	}

	c.recordFailure(service, startTime)
	return nil, fmt.Errorf("%s request failed after %d attempts: %w", service, c.config.MaxRetries+1, lastErr)
}

// backoff returns base * 2^(attempt-1), capped at MaxBackoff
func (c *Client) backoff(attempt int) time.Duration {
	d := c.config.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.config.MaxBackoff {
			return c.config.MaxBackoff
		}
	}
	return min(d, c.config.MaxBackoff)
}

// doRequest performs a single multipart upload
func (c *Client) doRequest(ctx context.Context, endpoint string, wav []byte, sampleRate int) ([]byte, error) {
	body, contentType, err := createMultipartRequest(wav, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "speechcap/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

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
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// createMultipartRequest builds a form with the WAV under "file"
func createMultipartRequest(wav []byte, sampleRate int) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writer.WriteField("sample_rate", strconv.Itoa(sampleRate)); err != nil {
		return nil, "", fmt.Errorf("failed to write field sample_rate: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether another attempt may succeed
func isRetryableError(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func (c *Client) recordFailure(service string, startTime time.Time) {
	c.incrementFailedRequests()
	c.metrics.RecordTranscriptionFailure(service, time.Since(startTime).Seconds())
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// Stats returns current client statistics
func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}

	return nil
}
