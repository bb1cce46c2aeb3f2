package server

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"chatvault/internal/api"
	"chatvault/internal/models"
)

// multipartOverhead covers form fields and part headers on top of the file.
const multipartOverhead = 1 << 20

// uploadFileParts are tried in order; "audio" is what voice notes use.
var uploadFileParts = []string{"file", "audio"}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if !s.acquireLimiter(s.uploadLimiter, w, r, "upload") {
		return
	}
	defer s.releaseLimiter(s.uploadLimiter)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.multipartMaxMemory); err != nil {
		s.writeServiceError(w, r, classifyMultipartError(err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := uploadFormFile(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer file.Close()

	kind, err := models.ParseBlobKind(r.FormValue("file_type"))
	if err != nil {
		s.writeServiceError(w, r, badRequestCode(err, ErrCodeInvalidType))
		return
	}

	blob, err := s.objects.Upload(r.Context(), UploadInput{
		Filename:    firstNonEmpty(r.FormValue("filename"), header.Filename),
		ContentType: firstNonEmpty(r.FormValue("content_type"), header.Header.Get("Content-Type")),
		Kind:        kind,
		Body:        file,
	})
	if err != nil {
		s.writeServiceError(w, r, classifyServiceError(err, ErrCodeBlobNotFound))
		return
	}

	s.writeJSON(w, http.StatusCreated, api.FileUploadResponse{
		BlobID:      blob.ID,
		Filename:    blob.Filename,
		Size:        blob.TotalSize,
		ContentType: blob.ContentType,
		ChunkCount:  blob.ChunkCount,
	})
}

func uploadFormFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	for _, name := range uploadFileParts {
		file, header, err := r.FormFile(name)
		if err == nil {
			return file, header, nil
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, nil, badRequest(fmt.Errorf("read %s part: %w", name, err))
		}
	}
	return nil, nil, badRequestCode(fmt.Errorf("file is required"), ErrCodeMissingRequired)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, err := requireBlobID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	entry, err := s.objects.Download(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, classifyServiceError(err, ErrCodeBlobNotFound))
		return
	}

	s.writeJSON(w, http.StatusOK, api.FileResponse{
		BlobID:      entry.Blob.ID,
		ContentType: entry.Blob.ContentType,
		Filename:    entry.Blob.Filename,
		Size:        entry.Blob.TotalSize,
		Data:        entry.Data,
	})
}

func (s *Server) handleGetFileContent(w http.ResponseWriter, r *http.Request) {
	id, err := requireBlobID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	entry, err := s.objects.Download(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, classifyServiceError(err, ErrCodeBlobNotFound))
		return
	}

	header := w.Header()
	header.Set("Content-Type", entry.Blob.ContentType)
	header.Set("Content-Length", strconv.FormatInt(int64(len(entry.Data)), 10))
	header.Set("X-Content-Type-Options", "nosniff")
	if disposition := contentDisposition(entry.Blob.Filename); disposition != "" {
		header.Set("Content-Disposition", disposition)
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(entry.Data); err != nil {
		s.log().Debug("write blob content", "blob_id", id, "error", err)
	}
}

func contentDisposition(filename string) string {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return "attachment"
	}
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

func classifyMultipartError(err error) error {
	if err == nil {
		return nil
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) || strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		return tooLarge(fmt.Errorf("request body too large"))
	}
	return badRequestCode(err, ErrCodeInvalidArgument)
}
