/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package avatars

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 90, A: 255})

	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))

	return buf.Bytes()
}

func decodeDataURL(t *testing.T, url string) (string, []byte) {
	t.Helper()

	require.True(t, strings.HasPrefix(url, "data:"))
	meta, payload, ok := strings.Cut(strings.TrimPrefix(url, "data:"), ";base64,")
	require.True(t, ok)

	data, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)

	return meta, data
}

func TestImageFetcher_Thumbnail(t *testing.T) {
	src := pngBytes(t, 300, 200)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(src)
	}))
	defer srv.Close()

	f := NewImageFetcher(srv.Client(), 48)

	url, err := f.Fetch(context.Background(), srv.URL+"/avatar.png")
	require.NoError(t, err)

	meta, data := decodeDataURL(t, url)
	assert.Equal(t, "image/jpeg", meta)

	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 48, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestImageFetcher_PassthroughForUndecodable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not really an image"))
	}))
	defer srv.Close()

	url, err := NewImageFetcher(srv.Client(), 0).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	meta, data := decodeDataURL(t, url)
	assert.True(t, strings.HasPrefix(meta, "text/plain"))
	assert.Equal(t, "not really an image", string(data))
}

func TestImageFetcher_FallsThroughCandidates(t *testing.T) {
	src := pngBytes(t, 10, 10)

	var (
		mu   sync.Mutex
		hits []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/broken" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		w.Write(src)
	}))
	defer srv.Close()

	fetch := NewImageFetcher(srv.Client(), 16).For([]string{"", srv.URL + "/broken", srv.URL + "/ok"})

	url, err := fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/broken", "/ok"}, hits)
}

func TestImageFetcher_Errors(t *testing.T) {
	f := NewImageFetcher(nil, 0)

	_, err := f.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoAvatar)

	_, err = f.Fetch(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrNoAvatar)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err = NewImageFetcher(srv.Client(), 0).Fetch(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "status 500")
}
