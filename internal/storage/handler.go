package storage

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Handler serves signed download links under /files/
func (b *Blobs) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		raw := strings.TrimPrefix(r.URL.EscapedPath(), "/files/")
		path, err := url.PathUnescape(raw)
		if err != nil {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		q := r.URL.Query()
		if err := b.Verify(path, q.Get("expires"), q.Get("sig")); err != nil {
			if errors.Is(err, ErrInvalidSignature) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		obj, data, err := b.Get(r.Context(), path)
		if err != nil {
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}
		if obj == nil {
			http.NotFound(w, r)
			return
		}

		contentType := obj.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "private, max-age=300")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	})
}
