// Package coldstore implements an optional archival sink: SSTable
// pairs displaced by compaction are uploaded to S3 before the physical
// delete, so a shard's compaction history stays recoverable for audit or
// disaster recovery purposes the engine itself never reads back.
package coldstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dd0wney/shardkv/pkg/logging"
)

// Config selects the bucket and key prefix archived objects are written
// under. A zero-value Bucket leaves cold storage disabled.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Store uploads compacted-away SSTable pairs to S3. A nil *Store disables
// the feature entirely (engine.Tree treats a nil ColdStoreArchiver as
// "archival off"); New returns nil, nil when cfg.Bucket is empty so callers
// can wire the result straight into engine.Options.ColdStore without an
// extra nil check.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	logger logging.Logger
}

// New builds a Store from cfg. Returns (nil, nil) when cfg.Bucket is empty,
// so the feature is disabled by omission rather than by a separate flag.
func New(ctx context.Context, cfg Config, logger logging.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	logger = logger.With(logging.Component("coldstore"))

	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("coldstore: load aws config: %w", err)
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// Archive implements engine.ColdStoreArchiver: it uploads dataPath and
// indexPath under a key namespaced by partition and SSTable index, logging
// (not returning) upload failures so archival never blocks the physical
// delete.
func (s *Store) Archive(ctx context.Context, partition string, index uint64, dataPath, indexPath string) error {
	if s == nil {
		return nil
	}

	for _, path := range []string{dataPath, indexPath} {
		if err := s.uploadFile(ctx, partition, index, path); err != nil {
			s.logger.Error("coldstore: upload failed, continuing with physical delete",
				logging.Path(path), logging.TableIndex(index), logging.Error(err))
		}
	}
	return nil
}

func (s *Store) uploadFile(ctx context.Context, partition string, index uint64, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("coldstore: open %s: %w", path, err)
	}
	defer f.Close()

	key := s.objectKey(partition, index, filepath.Base(path))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("coldstore: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) objectKey(partition string, index uint64, fileName string) string {
	key := fmt.Sprintf("%s/%020d/%s", partition, index, fileName)
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return key
}
