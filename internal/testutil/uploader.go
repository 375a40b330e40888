// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
)

// UploaderStub is an in-memory remote.Uploader for tests. Set Err to make
// every upload fail.
type UploaderStub struct {
	mu      sync.Mutex
	Err     error
	objects map[string][]byte
	hints   []string
}

// NewUploaderStub creates an empty uploader.
func NewUploaderStub() *UploaderStub {
	return &UploaderStub{objects: make(map[string][]byte)}
}

// Upload stores data under a sequential URL.
func (s *UploaderStub) Upload(ctx context.Context, data []byte, hint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	url := fmt.Sprintf("https://media.test/%d/%s", len(s.hints), hint)
	s.objects[url] = append([]byte(nil), data...)
	s.hints = append(s.hints, hint)
	return url, nil
}

// Object returns the bytes stored at url.
func (s *UploaderStub) Object(url string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[url]
	return data, ok
}

// Count returns the number of successful uploads.
func (s *UploaderStub) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hints)
}

// Hints returns the hints of every successful upload in order.
func (s *UploaderStub) Hints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hints...)
}

// TinyPNG returns an in-memory PNG byte slice with the requested dimensions.
func TinyPNG(t interface {
	Helper()
	Fatalf(string, ...any)
}, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
