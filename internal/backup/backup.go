// Package backup uploads the durable store directory to an S3-compatible
// bucket. Collections stay consistent because the caller flushes before
// running a backup; this package only moves bytes.
package backup

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Options configure the backup target.
type Options struct {
	// Endpoint is host:port of the S3-compatible service.
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Logger    *zap.Logger
}

// Summary reports what one backup run moved.
type Summary struct {
	Files int
	Bytes int64
}

// Uploader copies store files into a bucket.
type Uploader struct {
	client *minio.Client
	bucket string
	prefix string
	log    *zap.Logger
}

// New builds an uploader and verifies the bucket exists, creating it when
// it does not.
func New(ctx context.Context, opts Options) (*Uploader, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("backup needs an endpoint and a bucket")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create backup client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", opts.Bucket, err)
		}
	}
	return &Uploader{
		client: client,
		bucket: opts.Bucket,
		prefix: opts.Prefix,
		log:    opts.Logger,
	}, nil
}

// Run uploads every regular file under root, keyed by its path relative to
// root. Re-running overwrites previous objects, so the bucket always holds
// the latest backup under the prefix.
func (u *Uploader) Run(ctx context.Context, root string) (Summary, error) {
	var sum Summary
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := ObjectKey(u.prefix, rel)
		info, err := u.client.FPutObject(ctx, u.bucket, key, p, minio.PutObjectOptions{})
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		sum.Files++
		sum.Bytes += info.Size
		u.log.Debug("uploaded", zap.String("key", key), zap.Int64("bytes", info.Size))
		return nil
	})
	if err != nil {
		return sum, err
	}
	u.log.Info("backup complete",
		zap.String("bucket", u.bucket),
		zap.Int("files", sum.Files),
		zap.Int64("bytes", sum.Bytes))
	return sum, nil
}

// ObjectKey maps a file path relative to the store root onto its bucket
// key. Path separators normalize to forward slashes.
func ObjectKey(prefix, rel string) string {
	rel = strings.ReplaceAll(rel, string(filepath.Separator), "/")
	return path.Join(prefix, rel)
}
