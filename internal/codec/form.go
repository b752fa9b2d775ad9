package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"sort"
)

var errMissingBoundary = errors.New("multipart boundary missing")

// parseFormData сворачивает multipart-тело в плоскую карту.
// При повторе имени побеждает последнее значение, файловые части сохраняются как строка.
func parseFormData(data []byte, boundary string) (map[string]string, error) {
	if boundary == "" {
		return nil, errMissingBoundary
	}
	mr := multipart.NewReader(bytes.NewReader(data), boundary)
	fields := map[string]string{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return fields, nil
		}
		if err != nil {
			return nil, fmt.Errorf("codec: read multipart: %w", err)
		}
		value, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("codec: read part %q: %w", part.FormName(), err)
		}
		if name := part.FormName(); name != "" {
			fields[name] = string(value)
		}
	}
}

// buildFormData собирает multipart-тело заново и возвращает Content-Type с новым boundary.
func buildFormData(fields map[string]string) ([]byte, string, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, name := range names {
		if err := w.WriteField(name, fields[name]); err != nil {
			return nil, "", fmt.Errorf("codec: write field %q: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("codec: close multipart: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
