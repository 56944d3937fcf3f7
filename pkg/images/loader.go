// Package images fetches notification avatar images over HTTP.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chime/pkg/config"
)

const (
	maxRedirects       = 10
	defaultTimeout     = 10 * time.Second
	defaultMaxSize     = 5 << 20
	responseBodyMargin = 1
)

// ErrNoImage indicates the message author has no image URL to fetch.
var ErrNoImage = errors.New("no image url")

// Loader fetches raw image bytes, following a bounded redirect chain.
type Loader struct {
	client  *http.Client
	maxSize int64
}

func NewLoader(cfg config.ImagesConfig) *Loader {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	maxSize := cfg.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}

	return &Loader{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		maxSize: maxSize,
	}
}

// Fetch downloads the image at url. An empty url returns ErrNoImage.
func (l *Loader) Fetch(ctx context.Context, url string) ([]byte, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrNoImage
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}

	response, err := l.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", response.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, l.maxSize+responseBodyMargin))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	if int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("image exceeds %d bytes", l.maxSize)
	}
	if len(data) == 0 {
		return nil, errors.New("image response was empty")
	}

	return data, nil
}
