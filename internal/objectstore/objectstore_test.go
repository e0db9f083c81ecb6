package objectstore

import (
	"bytes"
	"context"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoteKey(t *testing.T) {
	k := NoteKey("u1", "IMG_0001.JPG")
	assert.Regexp(t, regexp.MustCompile(`^notes/u1/[0-9a-f-]{36}\.jpg$`), k)
	assert.Regexp(t, regexp.MustCompile(`^notes/u1/[0-9a-f-]{36}$`), NoteKey("u1", "scan"))
	assert.NotEqual(t, NoteKey("u1", "a.png"), NoteKey("u1", "a.png"))
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	meta := map[string]string{MetaTitle: "광합성", MetaUploadedBy: "u1"}
	require.NoError(t, l.Put(ctx, "notes/u1/a.png", []byte("png"), "image/png", meta))

	obj, err := l.Get(ctx, "notes/u1/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), obj.Body)
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, int64(3), obj.Size)
	assert.Equal(t, "광합성", obj.Meta("TITLE"))

	require.NoError(t, l.Delete(ctx, "notes/u1/a.png"))
	_, err = l.Head(ctx, "notes/u1/a.png")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, l.Delete(ctx, "notes/u1/a.png"))

	assert.Error(t, l.Put(ctx, "../escape", nil, "", nil))
	_, err = l.PresignPut(ctx, "k", "image/png", nil, time.Minute)
	assert.ErrorIs(t, err, ErrPresignUnsupported)
}

type fakeS3 struct {
	objects map[string]*s3.PutObjectInput
	bodies  map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]*s3.PutObjectInput{}, bodies: map[string][]byte{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = in
	f.bodies[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	put, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(f.bodies[aws.ToString(in.Key)])),
		ContentType: put.ContentType,
		Metadata:    lower(put.Metadata),
	}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	put, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentType: put.ContentType, ContentLength: put.ContentLength, Metadata: lower(put.Metadata)}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// lower mimics S3 returning user metadata keys in lower case.
func lower(m map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range m {
		out[string(bytes.ToLower([]byte(k)))] = v
	}
	return out
}

func TestS3PutGetHead(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := newS3(fake, nil, "learning-notes-bucket", "ap-northeast-2")
	require.NoError(t, s.Put(ctx, "notes/u1/x.jpg", []byte("jpeg"), "image/jpeg", map[string]string{MetaOriginalName: "필기.jpg"}))

	put := fake.objects["notes/u1/x.jpg"]
	assert.Equal(t, "%ED%95%84%EA%B8%B0.jpg", put.Metadata[MetaOriginalName])
	assert.Equal(t, int64(4), aws.ToInt64(put.ContentLength))

	obj, err := s.Get(ctx, "notes/u1/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), obj.Body)
	assert.Equal(t, "필기.jpg", obj.Meta(MetaOriginalName))

	obj, err = s.Head(ctx, "notes/u1/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(4), obj.Size)
	assert.Nil(t, obj.Body)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Head(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, "https://learning-notes-bucket.s3.ap-northeast-2.amazonaws.com/notes/u1/x.jpg", s.URL("notes/u1/x.jpg"))
}

func TestS3PresignPut(t *testing.T) {
	var gotTTL time.Duration
	var gotIn *s3.PutObjectInput
	s := newS3(newFakeS3(), func(ctx context.Context, in *s3.PutObjectInput, ttl time.Duration) (string, error) {
		gotTTL, gotIn = ttl, in
		return "https://signed.example/put", nil
	}, "b", "r")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	p, err := s.PresignPut(context.Background(), "notes/u1/k.png", "image/png", map[string]string{MetaTitle: "제목 1"}, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, gotTTL)
	assert.Equal(t, "image/png", aws.ToString(gotIn.ContentType))
	assert.Equal(t, "https://signed.example/put", p.URL)
	assert.Equal(t, "PUT", p.Method)
	assert.Equal(t, "%EC%A0%9C%EB%AA%A9+1", p.Headers["x-amz-meta-title"])
	assert.Equal(t, now.Add(5*time.Minute), p.ExpiresAt)
}
