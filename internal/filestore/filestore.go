// Package filestore abstracts the blob object store holding uploaded files.
//
// Absence of an object is reported with a nil or false result, never with an
// error, so callers can tell a missing object (an expected state they react
// to) from a backend malfunction (an error they surface).
package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"
)

// ErrAccessDenied is wrapped by backends when the store refuses access.
var ErrAccessDenied = errors.New("file store access denied")

// ObjectInfo describes a stored object without its content.
type ObjectInfo struct {
	Size     int64
	Hash     string
	Creation time.Time
}

// Object is a stored object together with a stream over its content. The
// caller owns Body and must Close the object.
type Object struct {
	ObjectInfo
	Body io.ReadCloser

	buf  []byte
	err  error
	read bool
}

// ReadAll drains Body once and returns the cached bytes on later calls, so
// several policies can inspect the same content.
func (o *Object) ReadAll() ([]byte, error) {
	if o.read {
		return o.buf, o.err
	}
	o.read = true
	if o.Body == nil {
		return nil, nil
	}
	o.buf, o.err = io.ReadAll(o.Body)
	return o.buf, o.err
}

// Reader returns a fresh reader over the object's content.
func (o *Object) Reader() (io.Reader, error) {
	data, err := o.ReadAll()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// Close releases the underlying stream.
func (o *Object) Close() error {
	if o.Body == nil {
		return nil
	}
	return o.Body.Close()
}

// FileStore is the capability the lifecycle engine consumes.
type FileStore interface {
	// GetPostURL returns a pre-signed URL the client uploads key to.
	GetPostURL(ctx context.Context, key string) (string, error)
	// GetSignedURL returns a time-limited download URL for key.
	GetSignedURL(ctx context.Context, key string) (string, error)
	CreateObject(ctx context.Context, key string, body io.Reader, size int64) error
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	// GetObject returns nil, nil when key does not exist.
	GetObject(ctx context.Context, key string) (*Object, error)
	// GetObjectInfo returns nil, nil when key does not exist.
	GetObjectInfo(ctx context.Context, key string) (*ObjectInfo, error)
	// GetObjectStream returns nil, nil when key does not exist.
	GetObjectStream(ctx context.Context, key string) (io.ReadCloser, error)
	// DeleteObject reports false when key did not exist.
	DeleteObject(ctx context.Context, key string) (bool, error)
	// DeleteObjects treats keys that do not exist as deleted.
	DeleteObjects(ctx context.Context, keys []string) error
	ListObjects(ctx context.Context) ([]string, error)
	CheckObjectExists(ctx context.Context, key string) (bool, error)
	// CopyObjects copies keys from srcBucket into this store, keeping names.
	CopyObjects(ctx context.Context, keys []string, srcBucket string) error
	Close() error
}
