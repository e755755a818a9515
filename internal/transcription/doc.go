// Package transcription implements the HTTP clients for the speech
// recognition and diarization services. Audio is uploaded as a 16-bit WAV in
// a multipart form; failed requests are retried with exponential backoff and
// concurrency is bounded by a semaphore.
package transcription
