package storage

import "context"

// Uploader stores a document and returns its public URL.
// Handlers depend on this interface so tests can stub the upload.
type Uploader interface {
	UploadBytes(ctx context.Context, folder string, filename string, b []byte) (string, error)
}
