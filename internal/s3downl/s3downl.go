// Package s3downl builds the download function the filestore uses to fetch
// test blobs. Objects stored as zstd (content-type application/zstd or a
// .zst suffix) are decompressed on the way down.
package s3downl

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
)

// GetS3DownloadFunc returns a closure that downloads an https S3 object URL
// into a local path.
func GetS3DownloadFunc(region string) (func(s3Url string, path string) error, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	s3Client := s3.NewFromConfig(cfg)

	return func(s3Url string, path string) error {
		u, err := url.Parse(s3Url)
		if err != nil {
			return fmt.Errorf("failed to parse s3 url %s: %w", s3Url, err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("invalid s3 url scheme: %s", u.Scheme)
		}

		// Expect virtual-hosted style: bucket.s3.region.amazonaws.com
		hostParts := strings.Split(u.Host, ".")
		if len(hostParts) < 3 || hostParts[1] != "s3" {
			return fmt.Errorf("invalid s3 url host format: %s", u.Host)
		}
		bucket := hostParts[0]
		key := strings.TrimPrefix(u.Path, "/")

		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create file %s: %w", path, err)
		}
		defer out.Close()

		obj, err := s3Client.GetObject(context.TODO(), &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to download %s: %w (bucket: %s, key: %s)", s3Url, err, bucket, key)
		}
		defer obj.Body.Close()

		if (obj.ContentType != nil && *obj.ContentType == "application/zstd") ||
			filepath.Ext(u.Path) == ".zst" {
			d, err := zstd.NewReader(obj.Body)
			if err != nil {
				return fmt.Errorf("failed to create zstd reader: %w", err)
			}
			defer d.Close()
			if _, err := io.Copy(out, d); err != nil {
				return fmt.Errorf("failed to write file %s: %w", path, err)
			}
			return nil
		}

		if _, err := io.Copy(out, obj.Body); err != nil {
			return fmt.Errorf("failed to write file %s: %w", path, err)
		}
		return nil
	}, nil
}
