package notes

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hanjang/internal/models"
	"hanjang/internal/objectstore"
	"hanjang/internal/ocr"
	"hanjang/internal/rag"
	"hanjang/internal/store"
	"hanjang/internal/vectorstore"
)

var png = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeOCR struct {
	ocr.Disabled
	text      string
	err       error
	byRef     []string
	imageCall int
}

func (f *fakeOCR) ExtractImage(ctx context.Context, image []byte) (ocr.Result, error) {
	f.imageCall++
	return ocr.Result{Text: f.text, Confidence: 0.9}, f.err
}

func (f *fakeOCR) ExtractObject(ctx context.Context, bucket, key string) (ocr.Result, error) {
	f.byRef = append(f.byRef, bucket+"/"+key)
	return ocr.Result{Text: f.text, Confidence: 0.8}, f.err
}

type fakeIndexer struct {
	ids []string
	err error
}

func (f *fakeIndexer) IndexNote(ctx context.Context, id string) (rag.IndexResult, error) {
	f.ids = append(f.ids, id)
	return rag.IndexResult{NoteID: id, ChunkCount: 2}, f.err
}

// presigning wraps Local with a fake presigner.
type presigning struct {
	*objectstore.Local
	meta map[string]string
	ttl  time.Duration
}

func (p *presigning) PresignPut(ctx context.Context, key, contentType string, meta map[string]string, ttl time.Duration) (objectstore.Presigned, error) {
	p.meta, p.ttl = meta, ttl
	return objectstore.Presigned{URL: "https://signed/" + key, Method: "PUT", Key: key, Bucket: "b"}, nil
}

type counter struct{ n int }

func (c *counter) NoteCreated(float64) { c.n++ }

type fixture struct {
	svc     *Service
	notes   *store.Memory
	vs      *vectorstore.Memory
	objects *presigning
	ocr     *fakeOCR
	idx     *fakeIndexer
}

func newFixture(t *testing.T, opt Options) *fixture {
	t.Helper()
	local, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	f := &fixture{
		notes:   store.NewMemory(),
		vs:      vectorstore.NewMemory(),
		objects: &presigning{Local: local},
		ocr:     &fakeOCR{text: "광합성\n빛 에너지"},
		idx:     &fakeIndexer{},
	}
	f.svc = New(f.notes, f.vs, f.objects, f.ocr, f.idx, opt, nil)
	f.svc.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	return f
}

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"생물", "시험"}, SplitTags(" 생물, ,시험 "))
	assert.Equal(t, []string{}, SplitTags(""))
}

func TestUpload(t *testing.T) {
	f := newFixture(t, Options{})
	c := &counter{}
	f.svc.SetObserver(c)
	ctx := context.Background()
	res, err := f.svc.Upload(ctx, UploadInput{Data: png, FileName: "page.PNG", Title: " 광합성 ", Subject: "생물", Tags: "a, b"})
	require.NoError(t, err)
	assert.Equal(t, "광합성", res.Title)
	assert.Equal(t, "광합성\n빛 에너지", res.ExtractedText)
	assert.Equal(t, 9, res.TextLength)
	assert.Equal(t, 0.9, res.OCRConfidence)
	assert.False(t, res.Indexed)
	assert.Empty(t, f.idx.ids)
	assert.Equal(t, 1, c.n)

	n, err := f.notes.GetNote(ctx, res.NoteID)
	require.NoError(t, err)
	assert.Equal(t, "test-user", n.UserID)
	assert.Equal(t, []string{"a", "b"}, n.Tags)
	assert.Equal(t, "image/png", n.Metadata.MimeType)
	assert.Equal(t, int64(len(png)), n.Metadata.FileSize)
	assert.Equal(t, "page.PNG", n.Metadata.OriginalName)
	assert.True(t, strings.HasPrefix(n.ObjectKey, "notes/test-user/"))
	assert.True(t, strings.HasSuffix(n.ObjectKey, ".png"))

	obj, err := f.objects.Get(ctx, n.ObjectKey)
	require.NoError(t, err)
	assert.Equal(t, png, obj.Body)
	assert.Equal(t, "test-user", obj.Meta(objectstore.MetaUploadedBy))
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t, Options{MaxBytes: 32})
	ctx := context.Background()
	_, err := f.svc.Upload(ctx, UploadInput{Title: "t"})
	assert.ErrorIs(t, err, ErrImageRequired)
	_, err = f.svc.Upload(ctx, UploadInput{Data: []byte("plain text"), Title: "t"})
	assert.ErrorIs(t, err, ErrInvalidImage)
	_, err = f.svc.Upload(ctx, UploadInput{Data: png, ContentType: "application/pdf", Title: "t"})
	assert.ErrorIs(t, err, ErrInvalidImage)
	_, err = f.svc.Upload(ctx, UploadInput{Data: append(append([]byte{}, png...), make([]byte, 32)...), Title: "t"})
	assert.ErrorIs(t, err, ErrFileTooLarge)
	_, err = f.svc.Upload(ctx, UploadInput{Data: png, Title: " "})
	assert.ErrorIs(t, err, ErrTitleRequired)
	assert.Zero(t, f.ocr.imageCall)
}

func TestUploadOCRFailureRemovesObject(t *testing.T) {
	f := newFixture(t, Options{})
	f.ocr.err = errors.New("textract down")
	_, err := f.svc.Upload(context.Background(), UploadInput{Data: png, FileName: "a.png", Title: "t", UserID: "u1"})
	assert.ErrorContains(t, err, "textract down")
	page, err := f.notes.ListNotes(context.Background(), store.NoteQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Zero(t, page.Pagination.Total)
}

func TestUploadAutoIndex(t *testing.T) {
	f := newFixture(t, Options{AutoIndex: true})
	res, err := f.svc.Upload(context.Background(), UploadInput{Data: png, Title: "t"})
	require.NoError(t, err)
	assert.True(t, res.Indexed)
	assert.Equal(t, 2, res.ChunkCount)
	assert.Equal(t, []string{res.NoteID}, f.idx.ids)

	f.idx.err = errors.New("embed failed")
	res, err = f.svc.Upload(context.Background(), UploadInput{Data: png, Title: "t"})
	require.NoError(t, err)
	assert.False(t, res.Indexed)
}

func TestCreateUploadURL(t *testing.T) {
	f := newFixture(t, Options{})
	u, err := f.svc.CreateUploadURL(context.Background(), UploadURLRequest{FileName: "x.jpg", Title: "제목", UserID: "u1", Tags: "a,b"})
	require.NoError(t, err)
	assert.Equal(t, UploadURLTTL, f.objects.ttl)
	assert.True(t, strings.HasPrefix(u.Key, "notes/u1/"))
	assert.Equal(t, u.Key[len("notes/u1/"):], u.FileName)
	assert.Equal(t, "https://signed/"+u.Key, u.URL)
	assert.Equal(t, "제목", f.objects.meta[objectstore.MetaTitle])
	assert.Equal(t, "u1", f.objects.meta[objectstore.MetaUploadedBy])
	assert.Equal(t, "a,b", f.objects.meta[objectstore.MetaTags])

	_, err = f.svc.CreateUploadURL(context.Background(), UploadURLRequest{Title: "t"})
	assert.ErrorIs(t, err, ErrFileName)
	_, err = f.svc.CreateUploadURL(context.Background(), UploadURLRequest{FileName: "x.jpg"})
	assert.ErrorIs(t, err, ErrTitleRequired)
	_, err = f.svc.CreateUploadURL(context.Background(), UploadURLRequest{FileName: "x.pdf", FileType: "application/pdf", Title: "t"})
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestProcessObject(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.objects.Put(ctx, "notes/u9/a.png", png, "image/png", map[string]string{
		"uploadedby": "u9", "title": "세포", "subject": "생물", "tags": "x,y", "uploadDate": "2024-04-30T10:00:00Z",
	}))
	n, err := f.svc.ProcessObject(ctx, "", "notes/u9/a.png", 0)
	require.NoError(t, err)
	assert.Equal(t, "u9", n.UserID)
	assert.Equal(t, "세포", n.Title)
	assert.Equal(t, []string{"x", "y"}, n.Tags)
	assert.Equal(t, int64(len(png)), n.Metadata.FileSize)
	assert.Equal(t, time.Date(2024, 4, 30, 10, 0, 0, 0, time.UTC), n.Metadata.UploadedAt)
	assert.Equal(t, 1, f.ocr.imageCall)
}

func TestProcessObjectDefaultsAndReference(t *testing.T) {
	f := newFixture(t, Options{OCRByReference: true})
	ctx := context.Background()
	require.NoError(t, f.objects.Put(ctx, "notes/x/b.jpg", png, "image/jpeg", nil))
	n, err := f.svc.ProcessObject(ctx, f.objects.Bucket(), "notes/x/b.jpg", 1234)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, n.Title)
	assert.Equal(t, "test-user", n.UserID)
	assert.Equal(t, models.DefaultSubject, n.Subject)
	assert.Equal(t, int64(1234), n.Metadata.FileSize)
	assert.Equal(t, []string{f.objects.Bucket() + "/notes/x/b.jpg"}, f.ocr.byRef)
	assert.Zero(t, f.ocr.imageCall)

	_, err = f.svc.ProcessObject(ctx, "other-bucket", "notes/x/b.jpg", 0)
	assert.ErrorIs(t, err, ErrForeignBucket)
	_, err = f.svc.ProcessObject(ctx, "", "notes/x/missing.jpg", 0)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	res, err := f.svc.Upload(ctx, UploadInput{Data: png, FileName: "a.png", Title: "t", UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, f.vs.Upsert(ctx, []vectorstore.UpsertItem{{VectorID: "v1", NoteID: res.NoteID, Vector: []float32{1}}}))
	require.NoError(t, f.notes.CreateQuestionSet(ctx, &models.QuestionSet{NoteID: res.NoteID, UserID: "u1"}))
	n, err := f.svc.Get(ctx, res.NoteID)
	require.NoError(t, err)

	out, err := f.svc.Delete(ctx, res.NoteID)
	require.NoError(t, err)
	assert.Equal(t, 1, out.VectorsDeleted)
	_, err = f.svc.Get(ctx, res.NoteID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.objects.Head(ctx, n.ObjectKey)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	qs, err := f.notes.ListQuestionSets(ctx, store.QuestionQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Zero(t, qs.Pagination.Total)

	_, err = f.svc.Delete(ctx, res.NoteID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListDefaultsUser(t *testing.T) {
	f := newFixture(t, Options{DefaultUserID: "me"})
	_, err := f.svc.Upload(context.Background(), UploadInput{Data: png, Title: "t"})
	require.NoError(t, err)
	page, err := f.svc.List(context.Background(), store.NoteQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Total)
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	a, err := f.svc.Analyze(ctx, png, "")
	require.NoError(t, err)
	assert.Empty(t, a.Tables)
	assert.Empty(t, a.KeyValues)

	_, err = f.svc.Analyze(ctx, []byte("plain text"), "")
	assert.ErrorIs(t, err, ErrInvalidImage)
	_, err = f.svc.Analyze(ctx, nil, "image/png")
	assert.ErrorIs(t, err, ErrImageRequired)
	list, err := f.notes.ListNotes(ctx, store.NoteQuery{UserID: "test-user"})
	require.NoError(t, err)
	assert.Empty(t, list.Notes)
}
