package files

import (
	"context"

	"github.com/dharsanguruparan/filealloc/internal/filestore"
	"github.com/dharsanguruparan/filealloc/internal/model"
)

// Policy holds the file-type specific steps of the processing pipeline.
//
// Validate returns model.ErrorFileInvalid or model.ErrorFileInfected to have
// the file rejected. Process returns model.SuccessFileProcessed to have the
// file marked ready; any other result leaves the status unchanged. Errors are
// reserved for failures that should be retried.
type Policy interface {
	Validate(ctx context.Context, entry *model.FileEntry, obj *filestore.Object) (model.Result, error)
	Process(ctx context.Context, entry *model.FileEntry, obj *filestore.Object) (model.Result, error)
}

// DefaultPolicy accepts every file as is.
type DefaultPolicy struct{}

func (DefaultPolicy) Validate(context.Context, *model.FileEntry, *filestore.Object) (model.Result, error) {
	return model.SuccessFileValidated, nil
}

func (DefaultPolicy) Process(context.Context, *model.FileEntry, *filestore.Object) (model.Result, error) {
	return model.SuccessFileProcessed, nil
}
