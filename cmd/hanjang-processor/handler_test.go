package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hanjang/internal/models"
)

type fakeNotes struct {
	calls []string
	fail  map[string]error
}

func (f *fakeNotes) ProcessObject(ctx context.Context, bucket, key string, size int64) (*models.Note, error) {
	f.calls = append(f.calls, bucket+"/"+key)
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	return &models.Note{ID: "id-" + key, Content: "본문"}, nil
}

func record(bucket, key string, size int64) events.S3EventRecord {
	var r events.S3EventRecord
	r.S3.Bucket.Name = bucket
	r.S3.Object.Key = key
	r.S3.Object.Size = size
	return r
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "notes/u1/my note.png", objectKey("notes/u1/my+note.png"))
	assert.Equal(t, "notes/수학.png", objectKey("notes/%EC%88%98%ED%95%99.png"))
	assert.Equal(t, "bad %zz key", objectKey("bad+%zz+key"))
}

func TestHandleProcessesEveryRecord(t *testing.T) {
	f := &fakeNotes{fail: map[string]error{"b.png": errors.New("ocr failed")}}
	h := newHandler(f, zap.NewNop())
	resp, err := h.Handle(context.Background(), events.S3Event{Records: []events.S3EventRecord{
		record("bucket", "a+1.png", 10),
		record("bucket", "b.png", 20),
		record("bucket", "c.png", 30),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"bucket/a 1.png", "bucket/b.png", "bucket/c.png"}, f.calls)
	assert.Equal(t, 500, resp.StatusCode)

	var body result
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	assert.False(t, body.Success)
	assert.Equal(t, []string{"id-a 1.png", "id-c.png"}, body.NoteIDs)
	assert.Equal(t, []string{"b.png"}, body.Failed)
	assert.Equal(t, "ocr failed", body.LastError)
}

func TestHandleSuccess(t *testing.T) {
	h := newHandler(&fakeNotes{}, zap.NewNop())
	resp, err := h.Handle(context.Background(), events.S3Event{Records: []events.S3EventRecord{record("b", "k.png", 1)}})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Body, `"success":true`)
}
