package repositories

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/config"
)

// putAttempts is how many times Put tries before giving up.
const putAttempts = 3

// s3API is the subset of *s3.Client used by ObjectStore.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore reads and writes blobs in the R2 bucket. Every fetch runs
// under FetchTimeout and failures are classified as apperr kinds.
type ObjectStore struct {
	client       s3API
	presign      presignFunc
	bucket       string
	endpoint     string
	fetchTimeout time.Duration
	putBackoff   time.Duration
	sleep        func(context.Context, time.Duration) error
}

// NewR2 initializes the R2 client using static credentials and the account
// endpoint (or cfg.Endpoint when set).
func NewR2(cfg config.R2Config, d config.DeliveryConfig) *ObjectStore {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	awsCfg := aws.Config{
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Region:      cfg.Region,
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
		// R2 rejects the SDK's default trailing checksums on PutObject.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return newObjectStore(client, s3.NewPresignClient(client), cfg.BucketName, endpoint, d)
}

func newObjectStore(client s3API, pc *s3.PresignClient, bucket, endpoint string, d config.DeliveryConfig) *ObjectStore {
	s := &ObjectStore{
		client:       client,
		bucket:       bucket,
		endpoint:     endpoint,
		fetchTimeout: d.FetchTimeout,
		putBackoff:   d.PutRetryBackoff,
		sleep:        sleepCtx,
	}
	if pc != nil {
		s.presign = func(ctx context.Context, in *s3.GetObjectInput, ttl time.Duration) (string, error) {
			req, err := pc.PresignGetObject(ctx, in, s3.WithPresignExpires(ttl))
			if err != nil {
				return "", err
			}
			return req.URL, nil
		}
	}
	if s.fetchTimeout <= 0 {
		s.fetchTimeout = 60 * time.Second
	}
	return s
}

type presignFunc func(ctx context.Context, in *s3.GetObjectInput, ttl time.Duration) (string, error)

// Get fetches the full object body. It does not retry.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("store.get", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, classify("store.get", key, err)
	}
	return data, nil
}

// Open starts a streaming read. The fetch timeout bounds the time until the
// object starts arriving. The caller must Close the returned reader.
func (s *ObjectStore) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(s.fetchTimeout, cancel)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	stopped := timer.Stop()
	if err != nil {
		cancel()
		if !stopped {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return nil, 0, classify("store.open", key, err)
	}
	return &cancelOnClose{ReadCloser: out.Body, cancel: cancel}, aws.ToInt64(out.ContentLength), nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// Put uploads body under key, retrying up to three times with linear
// backoff. It returns the object URL.
func (s *ObjectStore) Put(ctx context.Context, body io.ReadSeeker, size int64, key, contentType string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= putAttempts; attempt++ {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return "", apperr.Wrap(apperr.KindInternal, "store.put", err)
		}
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentLength: aws.Int64(size),
			ContentType:   aws.String(contentType),
		})
		if err == nil {
			return s.ObjectURL(key), nil
		}
		lastErr = err
		if attempt == putAttempts {
			break
		}
		if err := s.sleep(ctx, time.Duration(attempt)*s.putBackoff); err != nil {
			return "", classify("store.put", key, err)
		}
	}
	return "", classify("store.put", key, lastErr)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = classify("store.delete", key, err)
		if errors.Is(err, apperr.NotFound) {
			return nil
		}
		return err
	}
	return nil
}

// Exists checks if a given object key exists in the bucket.
func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = classify("store.head", key, err)
		if errors.Is(err, apperr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns every object under prefix.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var out []ObjectInfo
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("store.list", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

// PresignGet creates a presigned download URL for key. A non-empty filename
// forces an attachment download under that name.
func (s *ObjectStore) PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	if s.presign == nil {
		return "", apperr.New(apperr.KindInternal, "store.presign", "presigning is not configured")
	}
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if filename != "" {
		in.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", filename))
	}
	url, err := s.presign(ctx, in, ttl)
	if err != nil {
		return "", classify("store.presign", key, err)
	}
	return url, nil
}

func (s *ObjectStore) ObjectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
}

// classify maps SDK and transport errors onto apperr kinds.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrapf(apperr.KindTimeout, op, err, "timed out fetching %s", key)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Wrapf(apperr.KindTimeout, op, err, "timed out fetching %s", key)
	}

	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return apperr.Wrapf(apperr.KindNotFound, op, err, "object %s not found", key)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return apperr.Wrapf(apperr.KindNotFound, op, err, "object %s not found", key)
		case "AccessDenied", "Forbidden", "AllAccessDisabled", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return apperr.Wrapf(apperr.KindAccessDenied, op, err, "access to %s denied", key)
		case "RequestTimeout", "RequestTimeTooSkewed":
			return apperr.Wrapf(apperr.KindTimeout, op, err, "timed out fetching %s", key)
		}
	}
	return apperr.Wrapf(apperr.KindInternal, op, err, "storage request for %s failed", key)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
