// Package model contains the struct definitions shared across packages.
package model

import (
	"time"
)

// Status describes where a file is in its lifecycle. The values match the
// filestatus enum of the alloc table.
type Status string

const (
	StatusCreated   Status = "created"
	StatusUploading Status = "uploading"
	StatusUploaded  Status = "uploaded"
	StatusReady     Status = "ready"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether no operation may move the entry out of s.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusRejected
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusUploading, StatusUploaded, StatusReady, StatusRejected:
		return true
	}
	return false
}

// FileEntry is one row of the alloc table. Size, Hash and Creation are nil
// until they are known.
type FileEntry struct {
	ID         int64      `json:"id"`
	Bucket     string     `json:"bucket"`
	Bucketname string     `json:"bucketname"`
	Status     Status     `json:"status"`
	Size       *int64     `json:"size,omitempty"`
	Hash       *string    `json:"hash,omitempty"`
	Creation   *time.Time `json:"creation,omitempty"`
}

// AgeDays returns the number of whole days elapsed between the entry's
// creation and now. ok is false when the creation time is unknown.
func (e *FileEntry) AgeDays(now time.Time) (days int, ok bool) {
	if e.Creation == nil {
		return 0, false
	}
	return int(now.Sub(*e.Creation) / (24 * time.Hour)), true
}
