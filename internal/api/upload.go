package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"slices"

	"github.com/tillpoint/posadmin/internal/audit"
)

// File is an upload part. Content is read once when the form is built.
type File struct {
	Name    string
	Content io.Reader
}

// form is an encoded multipart body.
type form struct {
	data        []byte
	contentType string
	multiple    bool
}

// UploadFile posts a single file in the "file" field. Extra fields are sent
// as form values, JSON-encoded unless they are strings. The global loading
// flag is held for the duration of the upload.
func (c *Client) UploadFile(ctx context.Context, url string, file File, fields map[string]any, onProgress func(UploadProgress)) (*Response, error) {
	return c.upload(ctx, url, map[string]File{"file": file}, fields, onProgress, false)
}

// UploadMultipleFiles posts files in the fields "files[0]", "files[1]", and
// so on.
func (c *Client) UploadMultipleFiles(ctx context.Context, url string, files []File, fields map[string]any, onProgress func(UploadProgress)) (*Response, error) {
	parts := make(map[string]File, len(files))
	for i, f := range files {
		parts[fmt.Sprintf("files[%d]", i)] = f
	}
	return c.upload(ctx, url, parts, fields, onProgress, true)
}

func (c *Client) upload(ctx context.Context, url string, files map[string]File, fields map[string]any, onProgress func(UploadProgress), multiple bool) (*Response, error) {
	ctx, entry := audit.Context(ctx)

	f, err := buildForm(files, fields)
	if err != nil {
		entry.Begin(http.MethodPost, url)
		defer entry.End(ctx)()
		return nil, c.fail(ctx, err, http.MethodPost, url)
	}

	f.multiple = multiple

	for _, field := range slices.Sorted(maps.Keys(files)) {
		entry.Files = append(entry.Files, files[field].Name)
	}
	entry.Bytes = int64(len(f.data))

	return c.Do(ctx, Request{
		Method: http.MethodPost,
		URL:    url,
		Config: RequestConfig{
			ShowGlobalLoading: true,
			OnUploadProgress:  onProgress,
		},
		form: f,
	})
}

func buildForm(files map[string]File, fields map[string]any) (*form, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	// sorted so the body is reproducible
	for _, field := range slices.Sorted(maps.Keys(files)) {
		file := files[field]
		if file.Content == nil {
			return nil, fmt.Errorf("upload %q has no content", file.Name)
		}

		part, err := w.CreateFormFile(field, file.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create form part %q: %w", field, err)
		}
		if _, err := io.Copy(part, file.Content); err != nil {
			return nil, fmt.Errorf("failed to read upload %q: %w", file.Name, err)
		}
	}

	for _, key := range slices.Sorted(maps.Keys(fields)) {
		value, err := formValue(fields[key])
		if err != nil {
			return nil, fmt.Errorf("failed to encode form field %q: %w", key, err)
		}
		if err := w.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %q: %w", key, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	return &form{
		data:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	}, nil
}

func formValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
