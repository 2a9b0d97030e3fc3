// Package s3store keeps the shared document as one object in an S3-compatible bucket.
// The object ETag is the version token; writes are conditional on it.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/kimhsiao/slotboard/internal/config"
	"github.com/kimhsiao/slotboard/internal/models"
	"github.com/kimhsiao/slotboard/internal/remote"
)

// Store implements remote.Store on S3.
type Store struct {
	client  *s3.Client
	bucket  string
	key     string
	timeout time.Duration
}

var _ remote.Store = (*Store)(nil)

type options struct {
	accessKeyID     string
	secretAccessKey string
	httpClient      *http.Client
	maxAttempts     int
}

// Option customizes New.
type Option func(*options)

// WithStaticCredentials uses fixed keys instead of the default AWS credential chain.
func WithStaticCredentials(accessKeyID, secretAccessKey string) Option {
	return func(o *options) {
		o.accessKeyID = accessKeyID
		o.secretAccessKey = secretAccessKey
	}
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithMaxAttempts bounds SDK-level retries. Version conflicts are never retried here.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// New creates a Store from configuration.
func New(ctx context.Context, cfg config.S3Config, timeout time.Duration, opts ...Option) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Key == "" {
		cfg.Key = remote.DocumentName
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ep, err := Resolve(cfg.Provider, cfg.Endpoint, cfg.Region, cfg.AccountID, cfg.UsePathStyle)
	if err != nil {
		return nil, err
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(ep.Region)}
	if o.accessKeyID != "" && o.secretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.accessKeyID, o.secretAccessKey, ""),
		))
	}
	if o.httpClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(o.httpClient))
	}
	if o.maxAttempts > 0 {
		loadOpts = append(loadOpts, awsconfig.WithRetryMaxAttempts(o.maxAttempts))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		if ep.URL != "" {
			so.BaseEndpoint = aws.String(ep.URL)
		}
		so.UsePathStyle = ep.UsePathStyle
		// S3-compatible services reject the default trailing checksums
		so.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		so.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &Store{client: client, bucket: cfg.Bucket, key: cfg.Key, timeout: timeout}, nil
}

// FetchSnapshot downloads the object.
func (s *Store) FetchSnapshot(ctx context.Context) (remote.FetchResult, error) {
	const op = "fetch"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isNotFound(err) {
			return remote.FetchResult{Found: false}, nil
		}
		return remote.FetchResult{}, classify(op, err)
	}
	defer out.Body.Close()

	var snap models.RemoteSnapshot
	if err := json.NewDecoder(out.Body).Decode(&snap); err != nil {
		return remote.FetchResult{}, remote.NewError(remote.KindOther, op, 0, fmt.Errorf("decode document: %w", err))
	}
	snap.VersionToken = aws.ToString(out.ETag)
	return remote.FetchResult{Snapshot: &snap, Found: true}, nil
}

// FetchVersionToken returns the object ETag.
func (s *Store) FetchVersionToken(ctx context.Context) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, classify("version", err)
	}
	etag := aws.ToString(out.ETag)
	return etag, etag != "", nil
}

// WriteSnapshot puts the object with If-Match, or If-None-Match when expected is empty.
func (s *Store) WriteSnapshot(ctx context.Context, snap *models.RemoteSnapshot, expected string) (string, error) {
	const op = "write"

	doc, err := json.MarshalIndent(snap.ForUpload(), "", "  ")
	if err != nil {
		return "", remote.NewError(remote.KindOther, op, 0, fmt.Errorf("encode document: %w", err))
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(doc),
		ContentType: aws.String("application/json"),
	}
	if expected == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(expected)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		return "", classify(op, err)
	}
	etag := aws.ToString(out.ETag)
	if etag == "" {
		return "", remote.NewError(remote.KindOther, op, 0, errors.New("response carries no etag"))
	}
	return etag, nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

func classify(op string, err error) error {
	status := 0
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		status = re.HTTPStatusCode()
		switch status {
		case http.StatusPreconditionFailed, http.StatusConflict:
			return remote.NewError(remote.KindVersionConflict, op, status, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return remote.NewError(remote.KindAuth, op, status, err)
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return remote.NewError(remote.KindVersionConflict, op, status, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return remote.NewError(remote.KindAuth, op, status, err)
		}
		return remote.NewError(remote.KindOther, op, status, err)
	}
	if status != 0 {
		return remote.NewError(remote.KindOther, op, status, err)
	}
	return remote.TransportError(op, err)
}
