package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of *s3.Client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignFunc func(ctx context.Context, in *s3.PutObjectInput, ttl time.Duration) (string, error)

// S3 stores objects in one bucket. User metadata values are URL-escaped
// because S3 only carries US-ASCII in headers.
type S3 struct {
	api     S3API
	presign presignFunc
	bucket  string
	region  string
	now     func() time.Time
}

func NewS3(client *s3.Client, bucket, region string) *S3 {
	pc := s3.NewPresignClient(client)
	return newS3(client, func(ctx context.Context, in *s3.PutObjectInput, ttl time.Duration) (string, error) {
		req, err := pc.PresignPutObject(ctx, in, s3.WithPresignExpires(ttl))
		if err != nil {
			return "", err
		}
		return req.URL, nil
	}, bucket, region)
}

func newS3(api S3API, presign presignFunc, bucket, region string) *S3 {
	return &S3{api: api, presign: presign, bucket: bucket, region: region, now: time.Now}
}

func (s *S3) Bucket() string { return s.bucket }

func (s *S3) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func encodeMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = url.QueryEscape(v)
	}
	return out
}

func decodeMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if d, err := url.QueryUnescape(v); err == nil {
			v = d
		}
		out[k] = v
	}
	return out
}

func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		Metadata:      encodeMeta(meta),
	})
	if err != nil {
		return fmt.Errorf("s3: put %s: %w", key, err)
	}
	return nil
}

func notFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (s *S3) Get(ctx context.Context, key string) (*Object, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("s3: get %s: %w", key, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: read %s: %w", key, err)
	}
	return &Object{
		Key:         key,
		ContentType: aws.ToString(out.ContentType),
		Size:        int64(len(body)),
		Metadata:    decodeMeta(out.Metadata),
		Body:        body,
	}, nil
}

func (s *S3) Head(ctx context.Context, key string) (*Object, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("s3: head %s: %w", key, err)
	}
	return &Object{
		Key:         key,
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
		Metadata:    decodeMeta(out.Metadata),
	}, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		return fmt.Errorf("s3: delete %s: %w", key, err)
	}
	return nil
}

// PresignPut signs a PUT the client must send with the returned headers,
// metadata included, for the signature to match.
func (s *S3) PresignPut(ctx context.Context, key, contentType string, meta map[string]string, ttl time.Duration) (Presigned, error) {
	enc := encodeMeta(meta)
	u, err := s.presign(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Metadata:    enc,
	}, ttl)
	if err != nil {
		return Presigned{}, fmt.Errorf("s3: presign %s: %w", key, err)
	}
	headers := map[string]string{"Content-Type": contentType}
	for k, v := range enc {
		headers["x-amz-meta-"+k] = v
	}
	return Presigned{URL: u, Method: "PUT", Headers: headers, Key: key, Bucket: s.bucket, ExpiresAt: s.now().Add(ttl)}, nil
}
