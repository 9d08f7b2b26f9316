/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package avatars

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	DefaultThumbnailSize = 64

	maxImageSize = 2 << 20
	jpegQuality  = 85
)

var ErrNoAvatar = errors.New("participant has no avatar")

// ImageFetcher downloads avatar thumbnails and turns them into data URLs
// small enough to ship inside every broadcast.
type ImageFetcher struct {
	http *http.Client
	size int
}

func NewImageFetcher(hc *http.Client, size int) *ImageFetcher {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	if size < 1 {
		size = DefaultThumbnailSize
	}

	return &ImageFetcher{http: hc, size: size}
}

// For returns a Fetcher that tries each candidate URL in turn.
func (f *ImageFetcher) For(urls []string) Fetcher {
	return func(ctx context.Context) (string, error) {
		return f.Fetch(ctx, urls...)
	}
}

func (f *ImageFetcher) Fetch(ctx context.Context, urls ...string) (string, error) {
	if len(urls) == 0 {
		return "", ErrNoAvatar
	}

	var errs []error
	for _, u := range urls {
		if u == "" {
			continue
		}

		data, err := f.download(ctx, u)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		return f.encode(data), nil
	}

	if len(errs) == 0 {
		return "", ErrNoAvatar
	}

	return "", errors.Join(errs...)
}

func (f *ImageFetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build avatar request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("avatar download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read avatar: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoAvatar
	}

	return data, nil
}

// encode shrinks decodable images to a square JPEG thumbnail; anything
// else is passed through untouched.
func (f *ImageFetcher) encode(data []byte) string {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return dataURL(http.DetectContentType(data), data)
	}

	thumb := imaging.Fill(img, f.size, f.size, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return dataURL(http.DetectContentType(data), data)
	}

	return dataURL("image/jpeg", buf.Bytes())
}

func dataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
