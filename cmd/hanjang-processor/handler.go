package main

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"hanjang/internal/models"
)

type objectProcessor interface {
	ProcessObject(ctx context.Context, bucket, key string, size int64) (*models.Note, error)
}

type handler struct {
	notes objectProcessor
	log   *zap.Logger
}

func newHandler(p objectProcessor, log *zap.Logger) *handler {
	return &handler{notes: p, log: log}
}

// Response mirrors an API Gateway style result so invocations can be read
// the same way as the HTTP API.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type result struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message,omitempty"`
	NoteIDs   []string `json:"noteIds"`
	Failed    []string `json:"failed,omitempty"`
	LastError string   `json:"error,omitempty"`
}

// objectKey decodes an S3 event key, where spaces arrive as '+'.
func objectKey(raw string) string {
	k, err := url.QueryUnescape(raw)
	if err != nil {
		return strings.ReplaceAll(raw, "+", " ")
	}
	return k
}

// Handle processes every record. A failed record does not stop the rest;
// failures are reported in the body with status 500 so the event is not
// retried into duplicate notes.
func (h *handler) Handle(ctx context.Context, ev events.S3Event) (Response, error) {
	res := result{NoteIDs: []string{}}
	for _, rec := range ev.Records {
		bucket := rec.S3.Bucket.Name
		key := objectKey(rec.S3.Object.Key)
		h.log.Info("processor.object", zap.String("bucket", bucket), zap.String("object", key), zap.Int64("size", rec.S3.Object.Size))
		n, err := h.notes.ProcessObject(ctx, bucket, key, rec.S3.Object.Size)
		if err != nil {
			h.log.Error("processor.failed", zap.String("object", key), zap.Error(err))
			res.Failed = append(res.Failed, key)
			res.LastError = err.Error()
			continue
		}
		h.log.Info("processor.note", zap.String("note", n.ID), zap.Int("text_len", len([]rune(n.Content))))
		res.NoteIDs = append(res.NoteIDs, n.ID)
	}
	status := 200
	res.Success = len(res.Failed) == 0
	if res.Success {
		res.Message = "OCR 처리 완료"
	} else {
		status = 500
	}
	body, err := json.Marshal(res)
	if err != nil {
		return Response{}, err
	}
	return Response{StatusCode: status, Body: string(body)}, nil
}
