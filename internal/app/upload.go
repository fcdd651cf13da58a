package app

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"fleetdesk/api/internal/photos"
)

// uploadFormMemory is how much of a multipart form is kept in memory; the
// rest spills to temporary files.
const uploadFormMemory = 1 << 20

type upload struct {
	file        multipart.File
	size        int64
	contentType string
	form        *multipart.Form
}

func (u upload) close() {
	_ = u.file.Close()
	if u.form != nil {
		_ = u.form.RemoveAll()
	}
}

// readUpload extracts the "photo" part of a multipart request, rejecting
// bodies above the photo size limit before they are read in full.
func readUpload(w http.ResponseWriter, r *http.Request) (upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, photos.MaxUploadBytes+uploadFormMemory)
	if err := r.ParseMultipartForm(uploadFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return upload{}, fmt.Errorf("%w: request body over %d bytes", photos.ErrTooLarge, tooLarge.Limit)
		}
		return upload{}, domainError(http.StatusBadRequest, "INVALID_BODY", "expected a multipart form with a photo field", nil)
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		return upload{}, domainError(http.StatusBadRequest, "INVALID_BODY", "photo field is required", nil)
	}
	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	return upload{file: file, size: header.Size, contentType: contentType, form: r.MultipartForm}, nil
}
