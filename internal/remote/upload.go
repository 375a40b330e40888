package remote

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
)

// objectName builds a unique object name under the hint's directory, keeping
// the hint's extension.
func objectName(hint string) string {
	dir, file := path.Split(strings.TrimPrefix(path.Clean("/"+hint), "/"))
	return dir + uuid.NewString() + path.Ext(file)
}

// DiskUploader writes media into a local directory served by the HTTP
// server.
type DiskUploader struct {
	Dir     string
	BaseURL string
}

// NewDiskUploader creates the directory if needed.
func NewDiskUploader(dir, baseURL string) (*DiskUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskUploader{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload implements Uploader.
func (u *DiskUploader) Upload(ctx context.Context, data []byte, hint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := objectName(hint)
	dst := filepath.Join(u.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return u.BaseURL + "/" + name, nil
}

// BucketUploader stores media in a Firebase Storage bucket.
type BucketUploader struct {
	bucket *storage.BucketHandle
	name   string
}

// NewBucketUploader opens the named bucket of a Firebase app.
func NewBucketUploader(ctx context.Context, app *firebase.App, bucketName string) (*BucketUploader, error) {
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketName, err)
	}
	return &BucketUploader{bucket: bucket, name: bucketName}, nil
}

// Upload implements Uploader.
func (u *BucketUploader) Upload(ctx context.Context, data []byte, hint string) (string, error) {
	name := objectName(hint)
	w := u.bucket.Object(name).NewWriter(ctx)
	w.ContentType = http.DetectContentType(data)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.name, name), nil
}
