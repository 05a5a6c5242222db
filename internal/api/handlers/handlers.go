// Package handlers implements the HTTP endpoints of the statement analyzer.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/api/middleware"
	"github.com/dvloznov/statement-analyzer/internal/jobs"
	"github.com/dvloznov/statement-analyzer/internal/llm"
	"github.com/dvloznov/statement-analyzer/internal/notionsync"
	"github.com/dvloznov/statement-analyzer/internal/pdftext"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/store"
)

// Form fields that are never treated as period labels.
const (
	fieldAPIKey    = "apiKey"
	fieldStartDate = "startDate"
	fieldEndDate   = "endDate"
	fieldFile      = "file"

	headerAPIKey = "X-API-Key"

	defaultMaxUpload = 32 << 20
)

var errNotFound = errors.New("not found")

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInput),
		errors.Is(err, pipeline.ErrNoTransactions),
		errors.Is(err, store.ErrInvalidName),
		errors.Is(err, pdftext.ErrNoText):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, llm.ErrUpstreamTimeout),
		errors.Is(err, pipeline.ErrBudgetExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, notionsync.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes it as {"error": msg}. Server-side failures
// are logged at error level, client errors at warn.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg(msg)
	} else {
		log.Warn().Err(err).Int("status", status).Msg(msg)
	}
	middleware.WriteError(w, status, fmt.Sprintf("%s: %v", msg, err))
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", pipeline.ErrInput, err)
	}
	return nil
}

// apiKeyFrom returns the credential from the body, falling back to the
// X-API-Key header.
func apiKeyFrom(r *http.Request, bodyKey string) string {
	if strings.TrimSpace(bodyKey) != "" {
		return bodyKey
	}
	return r.Header.Get(headerAPIKey)
}

// uploadedFile is one file part spooled to disk.
type uploadedFile struct {
	Field    string
	FileName string
	Path     string
}

// upload is a parsed multipart request. Files keep their form order.
type upload struct {
	Fields map[string]string
	Files  []uploadedFile
	log    zerolog.Logger
}

// parseUpload streams the multipart body part by part so files keep the
// order the client sent them in. The caller must call Cleanup.
func parseUpload(w http.ResponseWriter, r *http.Request, maxBytes int64, log zerolog.Logger) (*upload, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: expected multipart form: %v", pipeline.ErrInput, err)
	}

	u := &upload{Fields: map[string]string{}, log: log}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return u, nil
		}
		if err != nil {
			u.Cleanup()
			return nil, fmt.Errorf("%w: reading form: %v", pipeline.ErrInput, err)
		}

		if part.FileName() == "" {
			value, err := io.ReadAll(io.LimitReader(part, 1<<16))
			part.Close()
			if err != nil {
				u.Cleanup()
				return nil, fmt.Errorf("%w: reading field %s: %v", pipeline.ErrInput, part.FormName(), err)
			}
			u.Fields[part.FormName()] = string(value)
			continue
		}

		path, err := spool(part)
		part.Close()
		if err != nil {
			u.Cleanup()
			return nil, fmt.Errorf("parseUpload: %w", err)
		}
		u.Files = append(u.Files, uploadedFile{Field: part.FormName(), FileName: part.FileName(), Path: path})
	}
}

func spool(r io.Reader) (string, error) {
	f, err := os.CreateTemp("", "statement-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}

// Cleanup removes every spooled file. Failures are logged only.
func (u *upload) Cleanup() {
	for _, f := range u.Files {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			u.log.Error().Err(err).Str("path", f.Path).Msg("Failed to delete temporary file")
		}
	}
}

// file returns the upload for field name.
func (u *upload) file(name string) (uploadedFile, bool) {
	for _, f := range u.Files {
		if f.Field == name {
			return f, true
		}
	}
	return uploadedFile{}, false
}

// periods extracts the text of every file part, labelled by its field name.
// A document without a text layer becomes an empty period.
func (u *upload) periods() ([]pipeline.PeriodText, error) {
	if len(u.Files) == 0 {
		return nil, fmt.Errorf("%w: no files uploaded", pipeline.ErrInput)
	}
	out := make([]pipeline.PeriodText, 0, len(u.Files))
	for _, f := range u.Files {
		text, err := pdftext.ExtractFile(f.Path)
		switch {
		case errors.Is(err, pdftext.ErrNoText):
			u.log.Warn().Str("period", f.Field).Str("file_name", f.FileName).Msg("Statement has no text layer, treating period as empty")
			text = ""
		case err != nil:
			return nil, fmt.Errorf("%w: %s: %w", pipeline.ErrInput, f.Field, err)
		}
		out = append(out, pipeline.PeriodText{Period: f.Field, Text: text})
	}
	return out, nil
}

// window returns the optional date window of the form.
func (u *upload) window() pipeline.Window {
	return pipeline.Window{
		Start: strings.TrimSpace(u.Fields[fieldStartDate]),
		End:   strings.TrimSpace(u.Fields[fieldEndDate]),
	}
}

// singleText extracts the text of the "file" part.
func (u *upload) singleText() (string, error) {
	f, ok := u.file(fieldFile)
	if !ok {
		return "", fmt.Errorf("%w: no file uploaded", pipeline.ErrInput)
	}
	text, err := pdftext.ExtractFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", pipeline.ErrInput, err)
	}
	return text, nil
}
