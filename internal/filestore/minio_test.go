package filestore

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(minio.ErrorResponse{Code: "NoSuchKey"}), errAbsent)
	assert.ErrorIs(t, classify(minio.ErrorResponse{Code: "NotFound"}), errAbsent)
	assert.ErrorIs(t, classify(minio.ErrorResponse{Code: "AccessDenied"}), ErrAccessDenied)

	other := errors.New("connection reset")
	assert.Equal(t, other, classify(other))
}

func TestAbsentOr(t *testing.T) {
	prefix := errors.New("stat object")
	assert.NoError(t, absentOr(prefix, minio.ErrorResponse{Code: "NoSuchKey"}))

	err := absentOr(prefix, minio.ErrorResponse{Code: "AccessDenied", Message: "denied"})
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Contains(t, err.Error(), "stat object")
}

func TestRemoveErrorsIgnoresAbsentKeys(t *testing.T) {
	results := make(chan minio.RemoveObjectError, 3)
	results <- minio.RemoveObjectError{ObjectName: "gone", Err: minio.ErrorResponse{Code: "NoSuchKey"}}
	results <- minio.RemoveObjectError{ObjectName: "also-gone", Err: minio.ErrorResponse{Code: "NotFound"}}
	close(results)
	assert.NoError(t, removeErrors(results))

	results = make(chan minio.RemoveObjectError, 2)
	results <- minio.RemoveObjectError{ObjectName: "gone", Err: minio.ErrorResponse{Code: "NoSuchKey"}}
	results <- minio.RemoveObjectError{ObjectName: "locked", Err: minio.ErrorResponse{Code: "AccessDenied"}}
	close(results)
	err := removeErrors(results)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Contains(t, err.Error(), "locked")
	assert.Contains(t, err.Error(), "remove 1 object(s)")
	assert.NotContains(t, err.Error(), "gone")
}
