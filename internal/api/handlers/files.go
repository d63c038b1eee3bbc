package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/documind/internal/catalog"
)

// FileService is the part of the catalog the file endpoints use.
type FileService interface {
	Upload(ctx context.Context, req catalog.UploadRequest) (*catalog.UploadResult, error)
	UploadURL(ctx context.Context, userID, rawURL, fileName string) (*catalog.UploadResult, error)
	ListFiles(ctx context.Context, userID string) ([]catalog.FileInfo, error)
	DeleteFile(ctx context.Context, userID, fileID string) (int, error)
	DeleteFilesByName(ctx context.Context, userID, fileName string) (int, error)
	Reconcile(ctx context.Context, userID string) (*catalog.DriftReport, error)
}

type FileHandler struct {
	svc      FileService
	maxBytes int64
}

func NewFileHandler(svc FileService, maxUploadBytes int64) *FileHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	return &FileHandler{svc: svc, maxBytes: maxUploadBytes}
}

func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxBytes {
		h.tooLarge(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.tooLarge(w)
			return
		}
		badRequest(w, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "No file uploaded")
		return
	}
	defer file.Close()

	userID := r.FormValue("user_id")
	if userID == "" {
		badRequest(w, "No user_id provided")
		return
	}
	if header.Filename == "" {
		badRequest(w, "No selected file")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "could not read uploaded file")
		return
	}

	res, err := h.svc.Upload(r.Context(), catalog.UploadRequest{
		UserID:   userID,
		FileName: header.Filename,
		Data:     data,
	})
	h.writeUpload(w, r, res, err)
}

func (h *FileHandler) tooLarge(w http.ResponseWriter) {
	writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": fmt.Sprintf("upload exceeds %d bytes", h.maxBytes)})
}

type uploadURLRequest struct {
	URL      string `json:"url"`
	UserID   string `json:"user_id"`
	FileName string `json:"file_name,omitempty"`
}

func (h *FileHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	var req uploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.URL == "" || req.UserID == "" {
		badRequest(w, "url and user_id are required")
		return
	}

	res, err := h.svc.UploadURL(r.Context(), req.UserID, req.URL, req.FileName)
	h.writeUpload(w, r, res, err)
}

func (h *FileHandler) writeUpload(w http.ResponseWriter, r *http.Request, res *catalog.UploadResult, err error) {
	if err != nil {
		if res != nil && res.Status == catalog.StatusPartial {
			// The file is stored and the remaining chunks are queued.
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":         err.Error(),
				"status":        res.Status,
				"fileName":      res.FileName,
				"fileId":        res.FileID,
				"userId":        res.UserID,
				"chunkCount":    res.ChunkCount,
				"chunksWritten": res.ChunksWritten,
			})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Document uploaded and indexed successfully",
		"fileName":   res.FileName,
		"fileId":     res.FileID,
		"userId":     res.UserID,
		"chunkCount": res.ChunkCount,
	})
}

func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		badRequest(w, "No user_id provided")
		return
	}

	files, err := h.svc.ListFiles(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files, "count": len(files)})
}

func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	userID := r.URL.Query().Get("user_id")
	if fileID == "" || userID == "" {
		badRequest(w, "file_id and user_id are required")
		return
	}

	n, err := h.svc.DeleteFile(r.Context(), userID, fileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "File deleted successfully", "chunksDeleted": n})
}

func (h *FileHandler) DeleteByName(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, fileName := q.Get("user_id"), q.Get("file_name")
	if fileName == "" || userID == "" {
		badRequest(w, "file_name and user_id are required")
		return
	}

	n, err := h.svc.DeleteFilesByName(r.Context(), userID, fileName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Files deleted successfully", "chunksDeleted": n})
}

func (h *FileHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reconcile(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
