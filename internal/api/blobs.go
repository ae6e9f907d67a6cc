package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/filealloc/internal/files"
	"github.com/dharsanguruparan/filealloc/internal/filestore"
	"github.com/dharsanguruparan/filealloc/internal/signing"
)

// blobTarget resolves and authorizes the store and key of a /blobs request.
func (s *Server) blobTarget(w http.ResponseWriter, r *http.Request) (*filestore.MemoryStore, string, bool) {
	bucket := chi.URLParam(r, "bucket")
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || key == "" {
		http.Error(w, "invalid object key", http.StatusBadRequest)
		return nil, "", false
	}
	q := r.URL.Query()
	if err := s.blobs.Verify(r.Method, bucket, key, q.Get("expires"), q.Get("signature")); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, signing.ErrExpired) {
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return nil, "", false
	}
	store, ok := s.blobs.Lookup(bucket)
	if !ok {
		http.Error(w, "bucket not found", http.StatusNotFound)
		return nil, "", false
	}
	return store, key, true
}

// handleBlobPut stores an upload sent to a URL issued by the memory store and
// then reports it the way a MinIO notification would.
func (s *Server) handleBlobPut(w http.ResponseWriter, r *http.Request) {
	store, key, ok := s.blobTarget(w, r)
	if !ok {
		return
	}
	if err := store.PutObject(r.Context(), key, r.Body, r.ContentLength, r.Header.Get("Content-Type")); err != nil {
		s.fail(w, r, err)
		return
	}
	_, err := s.receiver.ReceiveFile(r.Context(), files.Notification{Bucket: store.Bucket(), Bucketname: key})
	if err != nil && !errors.Is(err, files.ErrUnknownBucket) {
		s.logger.Error().Err(err).Str("bucket", store.Bucket()).Str("bucketname", key).Msg("upload notification failed")
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBlobGet(w http.ResponseWriter, r *http.Request) {
	store, key, ok := s.blobTarget(w, r)
	if !ok {
		return
	}
	obj, err := store.GetObject(r.Context(), key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if obj == nil {
		http.Error(w, "object not found", http.StatusNotFound)
		return
	}
	defer obj.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("ETag", strconv.Quote(obj.Hash))
	_, _ = io.Copy(w, obj.Body)
}
