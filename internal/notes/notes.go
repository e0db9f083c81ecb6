// Package notes turns uploaded images into stored, searchable notes.
package notes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"hanjang/internal/models"
	"hanjang/internal/objectstore"
	"hanjang/internal/ocr"
	"hanjang/internal/rag"
	"hanjang/internal/store"
	"hanjang/internal/vectorstore"
)

const (
	DefaultMaxBytes    = 10 << 20
	UploadURLTTL       = 5 * time.Minute
	DefaultTitle       = "제목 없음"
	defaultContentType = "image/jpeg"
)

var (
	ErrImageRequired = errors.New("notes: image file is required")
	ErrInvalidImage  = errors.New("notes: only image files can be uploaded")
	ErrFileTooLarge  = errors.New("notes: file is too large")
	ErrTitleRequired = errors.New("notes: title is required")
	ErrFileName      = errors.New("notes: file name is required")
	ErrForeignBucket = errors.New("notes: object is not in the configured bucket")
)

// Indexer indexes a stored note for retrieval.
type Indexer interface {
	IndexNote(ctx context.Context, noteID string) (rag.IndexResult, error)
}

// Observer is told about every created note.
type Observer interface {
	NoteCreated(ocrConfidence float64)
}

type Options struct {
	MaxBytes      int64
	DefaultUserID string
	// AutoIndex indexes every new note right after it is stored.
	AutoIndex bool
	// OCRByReference lets the extractor read stored objects itself instead
	// of being sent their bytes.
	OCRByReference bool
}

type Service struct {
	notes   store.NoteRepo
	vs      vectorstore.VectorStore
	objects objectstore.Store
	ocr     ocr.Extractor
	idx     Indexer
	obs     Observer
	opt     Options
	log     *zap.Logger
	now     func() time.Time
}

func New(notes store.NoteRepo, vs vectorstore.VectorStore, objects objectstore.Store, ext ocr.Extractor, idx Indexer, opt Options, log *zap.Logger) *Service {
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = DefaultMaxBytes
	}
	if opt.DefaultUserID == "" {
		opt.DefaultUserID = "test-user"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{notes: notes, vs: vs, objects: objects, ocr: ext, idx: idx, opt: opt, log: log, now: time.Now}
}

// SetObserver registers o for note creation events.
func (s *Service) SetObserver(o Observer) { s.obs = o }

// SplitTags splits a comma separated tag list, dropping blanks.
func SplitTags(s string) []string {
	out := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) user(id string) string {
	if strings.TrimSpace(id) == "" {
		return s.opt.DefaultUserID
	}
	return id
}

type UploadInput struct {
	Data        []byte
	FileName    string
	ContentType string
	Title       string
	Subject     string
	Tags        string
	UserID      string
}

type UploadResult struct {
	NoteID        string    `json:"noteId"`
	Title         string    `json:"title"`
	Subject       string    `json:"subject"`
	ExtractedText string    `json:"extractedText"`
	TextLength    int       `json:"textLength"`
	OCRConfidence float64   `json:"ocrConfidence"`
	ImageURL      string    `json:"imageUrl"`
	CreatedAt     time.Time `json:"createdAt"`
	Indexed       bool      `json:"isIndexed"`
	ChunkCount    int       `json:"chunkCount,omitempty"`
}

func (s *Service) validate(in *UploadInput) error {
	if err := s.checkImage(in); err != nil {
		return err
	}
	if strings.TrimSpace(in.Title) == "" {
		return ErrTitleRequired
	}
	return nil
}

func (s *Service) checkImage(in *UploadInput) error {
	if len(in.Data) == 0 {
		return ErrImageRequired
	}
	if int64(len(in.Data)) > s.opt.MaxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(in.Data), s.opt.MaxBytes)
	}
	if in.ContentType == "" || in.ContentType == "application/octet-stream" {
		in.ContentType = http.DetectContentType(in.Data)
	}
	if !strings.HasPrefix(in.ContentType, "image/") {
		return fmt.Errorf("%w: got %s", ErrInvalidImage, in.ContentType)
	}
	return nil
}

// Analyze extracts tables and form fields from an image without storing it.
func (s *Service) Analyze(ctx context.Context, data []byte, contentType string) (ocr.Analysis, error) {
	in := UploadInput{Data: data, ContentType: contentType}
	if err := s.checkImage(&in); err != nil {
		return ocr.Analysis{}, err
	}
	return s.ocr.Analyze(ctx, data)
}

// Upload stores the image, extracts its text and creates the note.
func (s *Service) Upload(ctx context.Context, in UploadInput) (UploadResult, error) {
	if err := s.validate(&in); err != nil {
		return UploadResult{}, err
	}
	user := s.user(in.UserID)
	now := s.now()
	key := objectstore.NoteKey(user, in.FileName)
	meta := map[string]string{
		objectstore.MetaOriginalName: in.FileName,
		objectstore.MetaUploadedBy:   user,
		objectstore.MetaUploadDate:   now.UTC().Format(time.RFC3339),
	}
	if err := s.objects.Put(ctx, key, in.Data, in.ContentType, meta); err != nil {
		return UploadResult{}, fmt.Errorf("store image: %w", err)
	}
	res, err := s.ocr.ExtractImage(ctx, in.Data)
	if err != nil {
		s.discard(ctx, key)
		return UploadResult{}, err
	}
	n := &models.Note{
		UserID:    user,
		Title:     strings.TrimSpace(in.Title),
		Subject:   strings.TrimSpace(in.Subject),
		Content:   res.Text,
		ImageURL:  s.objects.URL(key),
		ObjectKey: key,
		Metadata: models.NoteMetadata{
			UploadedAt:    now,
			OCRConfidence: res.Confidence,
			PageCount:     1,
			FileSize:      int64(len(in.Data)),
			MimeType:      in.ContentType,
			OriginalName:  in.FileName,
		},
		Tags:      SplitTags(in.Tags),
		CreatedAt: now,
	}
	if err := s.notes.CreateNote(ctx, n); err != nil {
		s.discard(ctx, key)
		return UploadResult{}, fmt.Errorf("save note: %w", err)
	}
	s.created(n)
	out := UploadResult{
		NoteID:        n.ID,
		Title:         n.Title,
		Subject:       n.Subject,
		ExtractedText: n.Content,
		TextLength:    utf8.RuneCountInString(n.Content),
		OCRConfidence: res.Confidence,
		ImageURL:      n.ImageURL,
		CreatedAt:     n.CreatedAt,
	}
	out.Indexed, out.ChunkCount = s.autoIndex(ctx, n)
	return out, nil
}

func (s *Service) discard(ctx context.Context, key string) {
	if err := s.objects.Delete(ctx, key); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		s.log.Warn("notes.object.cleanup", zap.String("object", key), zap.Error(err))
	}
}

func (s *Service) created(n *models.Note) {
	s.log.Info("notes.created", zap.String("note", n.ID), zap.String("user", n.UserID),
		zap.Int("chars", utf8.RuneCountInString(n.Content)), zap.Float64("ocr_confidence", n.Metadata.OCRConfidence))
	if s.obs != nil {
		s.obs.NoteCreated(n.Metadata.OCRConfidence)
	}
}

// autoIndex never fails the upload; a note that could not be indexed can be
// indexed later on request.
func (s *Service) autoIndex(ctx context.Context, n *models.Note) (bool, int) {
	if !s.opt.AutoIndex || s.idx == nil || strings.TrimSpace(n.Content) == "" {
		return false, 0
	}
	r, err := s.idx.IndexNote(ctx, n.ID)
	if err != nil {
		s.log.Warn("notes.autoindex", zap.String("note", n.ID), zap.Error(err))
		return false, 0
	}
	return true, r.ChunkCount
}

type UploadURLRequest struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Title    string `json:"title"`
	Subject  string `json:"subject,omitempty"`
	Tags     string `json:"tags,omitempty"`
}

type UploadURL struct {
	objectstore.Presigned
	FileName string `json:"fileName"`
}

// CreateUploadURL presigns a direct upload. The note is created when the
// object lands, by ProcessObject.
func (s *Service) CreateUploadURL(ctx context.Context, r UploadURLRequest) (UploadURL, error) {
	if strings.TrimSpace(r.FileName) == "" {
		return UploadURL{}, ErrFileName
	}
	if strings.TrimSpace(r.Title) == "" {
		return UploadURL{}, ErrTitleRequired
	}
	ct := r.FileType
	if ct == "" {
		ct = defaultContentType
	}
	if !strings.HasPrefix(ct, "image/") {
		return UploadURL{}, fmt.Errorf("%w: got %s", ErrInvalidImage, ct)
	}
	user := s.user(r.UserID)
	key := objectstore.NoteKey(user, r.FileName)
	p, err := s.objects.PresignPut(ctx, key, ct, map[string]string{
		objectstore.MetaOriginalName: r.FileName,
		objectstore.MetaUploadedBy:   user,
		objectstore.MetaUploadDate:   s.now().UTC().Format(time.RFC3339),
		objectstore.MetaTitle:        r.Title,
		objectstore.MetaSubject:      r.Subject,
		objectstore.MetaTags:         r.Tags,
	}, UploadURLTTL)
	if err != nil {
		return UploadURL{}, err
	}
	return UploadURL{Presigned: p, FileName: key[strings.LastIndex(key, "/")+1:]}, nil
}

// ProcessObject creates a note from an image that was uploaded directly to
// the object store. Size is the object size reported by the upload event;
// zero means use the stored size. An empty bucket means the configured one.
func (s *Service) ProcessObject(ctx context.Context, bucket, key string, size int64) (*models.Note, error) {
	if bucket == "" {
		bucket = s.objects.Bucket()
	}
	if bucket != s.objects.Bucket() {
		return nil, fmt.Errorf("%w: %s", ErrForeignBucket, bucket)
	}
	var (
		obj *objectstore.Object
		res ocr.Result
		err error
	)
	if s.opt.OCRByReference {
		if obj, err = s.objects.Head(ctx, key); err != nil {
			return nil, err
		}
		res, err = s.ocr.ExtractObject(ctx, bucket, key)
	} else {
		if obj, err = s.objects.Get(ctx, key); err != nil {
			return nil, err
		}
		res, err = s.ocr.ExtractImage(ctx, obj.Body)
	}
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = obj.Size
	}
	title := obj.Meta(objectstore.MetaTitle)
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	now := s.now()
	uploaded := now
	if t, err := time.Parse(time.RFC3339, obj.Meta(objectstore.MetaUploadDate)); err == nil {
		uploaded = t
	}
	n := &models.Note{
		UserID:    s.user(obj.Meta(objectstore.MetaUploadedBy)),
		Title:     title,
		Subject:   obj.Meta(objectstore.MetaSubject),
		Content:   res.Text,
		ImageURL:  s.objects.URL(key),
		ObjectKey: key,
		Metadata: models.NoteMetadata{
			UploadedAt:    uploaded,
			OCRConfidence: res.Confidence,
			PageCount:     1,
			FileSize:      size,
			MimeType:      obj.ContentType,
			OriginalName:  obj.Meta(objectstore.MetaOriginalName),
		},
		Tags:      SplitTags(obj.Meta(objectstore.MetaTags)),
		CreatedAt: now,
	}
	if err := s.notes.CreateNote(ctx, n); err != nil {
		return nil, fmt.Errorf("save note: %w", err)
	}
	s.created(n)
	if ok, _ := s.autoIndex(ctx, n); ok {
		if fresh, err := s.notes.GetNote(ctx, n.ID); err == nil {
			n = fresh
		}
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Note, error) {
	return s.notes.GetNote(ctx, id)
}

func (s *Service) List(ctx context.Context, q store.NoteQuery) (store.NotePage, error) {
	q.UserID = s.user(q.UserID)
	return s.notes.ListNotes(ctx, q)
}

type DeleteResult struct {
	NoteID         string `json:"noteId"`
	VectorsDeleted int    `json:"vectorsDeleted"`
}

// Delete removes a note with its vectors and question sets. The image is
// removed last and a failure there is only logged.
func (s *Service) Delete(ctx context.Context, id string) (DeleteResult, error) {
	n, err := s.notes.GetNote(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	removed, err := s.vs.DeleteByNote(ctx, id)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete vectors: %w", err)
	}
	if err := s.notes.DeleteNote(ctx, id); err != nil {
		return DeleteResult{}, err
	}
	if n.ObjectKey != "" {
		s.discard(ctx, n.ObjectKey)
	}
	s.log.Info("notes.deleted", zap.String("note", id), zap.Int("vectors", removed))
	return DeleteResult{NoteID: id, VectorsDeleted: removed}, nil
}
