package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/dharsanguruparan/filealloc/internal/files"
)

// handleMinioEvent receives MinIO bucket notifications sent by a webhook
// target. Every object-created record is treated as an upload completion.
func (s *Server) handleMinioEvent(w http.ResponseWriter, r *http.Request) {
	var info notification.Info
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		http.Error(w, "invalid notification body", http.StatusBadRequest)
		return
	}

	accepted := 0
	for _, record := range info.Records {
		if !strings.HasPrefix(record.EventName, "s3:ObjectCreated:") {
			continue
		}
		// Object keys arrive URL encoded.
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", record.S3.Object.Key).Msg("undecodable object key")
			continue
		}
		ok, err := s.receiver.ReceiveFile(r.Context(), files.Notification{
			Bucket:     record.S3.Bucket.Name,
			Bucketname: key,
		})
		if errors.Is(err, files.ErrUnknownBucket) {
			s.logger.Debug().Str("bucket", record.S3.Bucket.Name).Msg("notification for unmanaged bucket")
			continue
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if ok {
			accepted++
		}
	}
	respondJSON(w, http.StatusOK, map[string]int{"accepted": accepted})
}
