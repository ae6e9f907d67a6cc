package model

// Result is the outcome code surfaced to callers of the processing pipeline.
type Result string

const (
	SuccessFileValidated      Result = "SUCCESS_FILE_VALIDATED"
	SuccessFileProcessed      Result = "SUCCESS_FILE_PROCESSED"
	ErrorFileNotFound         Result = "ERROR_FILE_NOT_FOUND"
	ErrorFileInvalid          Result = "ERROR_FILE_INVALID"
	ErrorFileInfected         Result = "ERROR_FILE_INFECTED"
	ErrorFileAlreadyProcessed Result = "ERROR_FILE_ALREADY_PROCESSED"
	ErrorFileUploadFailed     Result = "ERROR_FILE_UPLOAD_FAILED"
)

// Rejected reports whether r is a business-level rejection that must be
// persisted as the rejected status.
func (r Result) Rejected() bool {
	return r == ErrorFileInvalid || r == ErrorFileInfected
}

// ProcessResult is returned by the processing pipeline. Entry is nil when no
// entry existed for Bucketname.
type ProcessResult struct {
	Status     Result     `json:"status"`
	Bucketname string     `json:"bucketname"`
	Entry      *FileEntry `json:"entry,omitempty"`
}

// BatchReport aggregates the outcomes of a re-processing batch.
type BatchReport struct {
	Total    int      `json:"total"`
	Accepted []string `json:"accepted"`
	Rejected []string `json:"rejected"`
	NotFound []string `json:"notFound"`
	// Failed holds files whose processing returned an error; the batch keeps
	// going past them.
	Failed []string `json:"failed"`
}

// Add files bucketname under the bucket matching status.
func (b *BatchReport) Add(bucketname string, status Result) {
	switch status {
	case SuccessFileProcessed:
		b.Accepted = append(b.Accepted, bucketname)
	case ErrorFileUploadFailed, ErrorFileNotFound:
		b.NotFound = append(b.NotFound, bucketname)
	case ErrorFileInfected, ErrorFileInvalid:
		b.Rejected = append(b.Rejected, bucketname)
	}
}
