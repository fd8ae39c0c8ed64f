// Package storage uploads attachment bytes to the external blob sink.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
)

// BlobStore implements out.BlobStore over a plain HTTP PUT sink. The sink
// stores the bytes under the request path and serves them back on GET.
type BlobStore struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

var _ out.BlobStore = (*BlobStore)(nil)

func NewBlobStore(baseURL string) *BlobStore {
	return &BlobStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "blob-sink",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Put uploads data under key and returns the canonical URL.
func (s *BlobStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	target := s.baseURL + "/" + escapeKey(key)

	_, err := s.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
		if err != nil {
			return nil, apperr.ProtocolError("blob sink request", err)
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		req.Header.Set("Content-Type", contentType)
		req.ContentLength = int64(len(data))

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, apperr.ProviderUnavailable("blob sink", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		switch {
		case resp.StatusCode < 300:
			return nil, nil
		case resp.StatusCode >= 500:
			return nil, apperr.ProviderUnavailable("blob sink", fmt.Errorf("HTTP %d", resp.StatusCode))
		default:
			return nil, apperr.ProtocolError("blob sink", fmt.Errorf("HTTP %d", resp.StatusCode))
		}
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return "", apperr.ProviderUnavailable("blob sink", err)
	}
	if err != nil {
		return "", err
	}
	return target, nil
}

// escapeKey escapes each path segment while keeping the separators, so
// "123/invoice.pdf" stays hierarchical.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
