package out

import "context"

// BlobStore writes attachment bytes to the external blob sink and returns
// the stable URL the bytes are reachable at.
type BlobStore interface {
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
}
