package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"legal-agent/internal/domain"
)

// s3API is the minimal S3 interface required by S3Store.
// *s3.Client from aws-sdk-go-v2 satisfies this interface.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	GetBucketLifecycleConfiguration(ctx context.Context, in *s3.GetBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLifecycleConfigurationOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, in *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
}

const (
	// SessionTag marks every stored upload so the bucket lifecycle rule can
	// expire uploads of sessions that idle out without being ended.
	SessionTag        = "legal-agent-session"
	sessionTagging    = SessionTag + "=1"
	lifecycleRuleID   = "legal-agent-session-uploads"
	noLifecycleConfig = "NoSuchLifecycleConfiguration"
)

// S3Store keeps the raw bytes of uploaded documents for the lifetime of a
// session, under sessions/<sessionID>/.
type S3Store struct {
	api    s3API
	bucket string
}

func New(api s3API, bucket string) (*S3Store, error) {
	if api == nil {
		return nil, errors.New("blobstore: api must not be nil")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("blobstore: bucket must not be empty")
	}
	return &S3Store{api: api, bucket: bucket}, nil
}

func sessionPrefix(sessionID string) string {
	return "sessions/" + sessionID + "/"
}

// Key returns the object key for a document of a session.
func Key(sessionID string, doc domain.Document) string {
	return sessionPrefix(sessionID) + doc.ID + "." + string(doc.Format)
}

func contentType(f domain.Format) string {
	switch f {
	case domain.FormatPDF:
		return "application/pdf"
	case domain.FormatTXT:
		return "text/plain"
	case domain.FormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// Put stores the document's raw bytes and returns the object key.
func (s *S3Store) Put(ctx context.Context, sessionID string, doc domain.Document) (string, error) {
	key := Key(sessionID, doc)
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(doc.Raw),
		ContentType: aws.String(contentType(doc.Format)),
		Metadata:    map[string]string{"filename": doc.Name},
		Tagging:     aws.String(sessionTagging),
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: put %q: %w", key, err)
	}
	return key, nil
}

// DeleteSession removes every object stored for the session.
func (s *S3Store) DeleteSession(ctx context.Context, sessionID string) error {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(sessionPrefix(sessionID)),
	}
	for {
		page, err := s.api.ListObjectsV2(ctx, in)
		if err != nil {
			return fmt.Errorf("blobstore: list session %q: %w", sessionID, err)
		}
		if err := s.deleteObjects(ctx, page.Contents); err != nil {
			return err
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			return nil
		}
		in.ContinuationToken = page.NextContinuationToken
	}
}

func (s *S3Store) deleteObjects(ctx context.Context, objects []types.Object) error {
	if len(objects) == 0 {
		return nil
	}
	ids := make([]types.ObjectIdentifier, 0, len(objects))
	for _, obj := range objects {
		ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
	}
	out, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("blobstore: delete objects: %w", err)
	}
	if out != nil && len(out.Errors) > 0 {
		first := out.Errors[0]
		return fmt.Errorf("blobstore: delete %q: %s", aws.ToString(first.Key), aws.ToString(first.Message))
	}
	return nil
}

// ExpiryDays converts a session idle lifetime to lifecycle days. S3 expires
// objects in whole days, so uploads may outlive an idle session by less than
// a day.
func ExpiryDays(idleTTL time.Duration) int32 {
	days := int32((idleTTL + 24*time.Hour - 1) / (24 * time.Hour))
	return max(days, 1)
}

// EnsureExpiry installs or updates the lifecycle rule that deletes tagged
// uploads after the session lifetime. Other rules on the bucket are kept.
func (s *S3Store) EnsureExpiry(ctx context.Context, idleTTL time.Duration) error {
	var rules []types.LifecycleRule
	out, err := s.api.GetBucketLifecycleConfiguration(ctx, &s3.GetBucketLifecycleConfigurationInput{
		Bucket: aws.String(s.bucket),
	})
	var apiErr smithy.APIError
	switch {
	case err == nil:
		for _, rule := range out.Rules {
			if aws.ToString(rule.ID) != lifecycleRuleID {
				rules = append(rules, rule)
			}
		}
	case errors.As(err, &apiErr) && apiErr.ErrorCode() == noLifecycleConfig:
	default:
		return fmt.Errorf("blobstore: get lifecycle of %q: %w", s.bucket, err)
	}

	rules = append(rules, types.LifecycleRule{
		ID:     aws.String(lifecycleRuleID),
		Status: types.ExpirationStatusEnabled,
		Filter: &types.LifecycleRuleFilter{
			Tag: &types.Tag{Key: aws.String(SessionTag), Value: aws.String("1")},
		},
		Expiration: &types.LifecycleExpiration{Days: aws.Int32(ExpiryDays(idleTTL))},
	})
	_, err = s.api.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket:                 aws.String(s.bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{Rules: rules},
	})
	if err != nil {
		return fmt.Errorf("blobstore: put lifecycle of %q: %w", s.bucket, err)
	}
	return nil
}
