package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"hanjang/internal/notes"
	"hanjang/internal/store"
)

// multipartSlack leaves room for the form fields next to the image.
const multipartSlack = 1 << 20

// readImage parses the multipart form and returns the "image" file. On
// failure the error response is already written.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request, op string) ([]byte, *multipart.FileHeader, bool) {
	limit := s.app.Config.UploadMaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartSlack)
	if err := r.ParseMultipartForm(limit + multipartSlack); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.fail(w, r, op, notes.ErrFileTooLarge)
			return nil, nil, false
		}
		badRequest(w, "multipart form expected: "+err.Error())
		return nil, nil, false
	}
	f, hdr, err := r.FormFile("image")
	if err != nil {
		s.fail(w, r, op, notes.ErrImageRequired)
		return nil, nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		s.fail(w, r, op, err)
		return nil, nil, false
	}
	return data, hdr, true
}

func (s *Server) handleNoteUpload(w http.ResponseWriter, r *http.Request) {
	data, hdr, ok := s.readImage(w, r, "notes.upload")
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if !ok {
		return
	}
	res, err := s.app.Notes.Upload(r.Context(), notes.UploadInput{
		Data:        data,
		FileName:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Title:       r.FormValue("title"),
		Subject:     r.FormValue("subject"),
		Tags:        r.FormValue("tags"),
		UserID:      s.userID(r, r.FormValue("userId")),
	})
	if err != nil {
		s.fail(w, r, "notes.upload", err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

// handleNoteAnalyze returns tables and form fields found in an image. Nothing is stored.
func (s *Server) handleNoteAnalyze(w http.ResponseWriter, r *http.Request) {
	data, hdr, ok := s.readImage(w, r, "notes.analyze")
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if !ok {
		return
	}
	out, err := s.app.Notes.Analyze(r.Context(), data, hdr.Header.Get("Content-Type"))
	if err != nil {
		s.fail(w, r, "notes.analyze", err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var req notes.UploadURLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = s.userID(r, req.UserID)
	out, err := s.app.Notes.CreateUploadURL(r.Context(), req)
	if err != nil {
		s.fail(w, r, "notes.upload_url", err)
		return
	}
	writeData(w, http.StatusOK, out)
}

// handleNoteProcess creates a note from an object that was uploaded
// directly with a presigned URL.
func (s *Server) handleNoteProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bucket string `json:"bucket"`
		Key    string `json:"s3Key"`
		Size   int64  `json:"size"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		badRequest(w, "s3Key is required")
		return
	}
	n, err := s.app.Notes.ProcessObject(r.Context(), req.Bucket, req.Key, req.Size)
	if err != nil {
		s.fail(w, r, "notes.process", err)
		return
	}
	writeData(w, http.StatusCreated, n)
}

func (s *Server) handleNoteList(w http.ResponseWriter, r *http.Request) {
	page, ok1 := queryInt(r, "page", 1)
	limit, ok2 := queryInt(r, "limit", store.DefaultLimit)
	if !ok1 || !ok2 {
		badRequest(w, "page and limit must be integers")
		return
	}
	out, err := s.app.Notes.List(r.Context(), store.NoteQuery{
		UserID:  s.userID(r, ""),
		Subject: r.URL.Query().Get("subject"),
		Page:    page,
		Limit:   limit,
	})
	if err != nil {
		s.fail(w, r, "notes.list", err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleNoteGet(w http.ResponseWriter, r *http.Request) {
	n, err := s.app.Notes.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, "notes.get", err)
		return
	}
	writeData(w, http.StatusOK, n)
}

func (s *Server) handleNoteDelete(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Notes.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, "notes.delete", err)
		return
	}
	writeData(w, http.StatusOK, out)
}
