// Package codec переводит HTTP-запросы и ответы в самоописывающую форму,
// пригодную для передачи через JSON-канал сообщений, и обратно.
package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/xela07ax/cors-relay/internal/domain"
)

// SerializedRequest: запрос в транспортной форме.
type SerializedRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    *TaggedBody       `json:"body"`
}

// SerializedResponse: ответ в транспортной форме.
type SerializedResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    *TaggedBody       `json:"body"`
}

// streamChunkSize: размер одного чтения при вычитывании живого потока.
const streamChunkSize = 32 * 1024

// DecodeRequest разбирает транспортный JSON запроса. Ошибка тега тела
// всегда оборачивает ErrUnsupportedBodyEncoding.
func DecodeRequest(data []byte) (*SerializedRequest, error) {
	var raw struct {
		URL     string            `json:"url"`
		Method  string            `json:"method"`
		Headers map[string]string `json:"headers"`
		Body    json.RawMessage   `json:"body"`
	}
	if err := api.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("codec: malformed request: %w", err)
	}
	req := &SerializedRequest{URL: raw.URL, Method: raw.Method, Headers: raw.Headers}
	if body := bytes.TrimSpace(raw.Body); len(body) > 0 && !bytes.Equal(body, []byte("null")) {
		var tb TaggedBody
		if err := tb.UnmarshalJSON(body); err != nil {
			return nil, err
		}
		req.Body = &tb
	}
	return req, nil
}

// SerializeRequest вычитывает и закрывает тело запроса.
// Тело считается буферизуемым, если его можно перечитать или известна длина.
func SerializeRequest(req *http.Request) (*SerializedRequest, error) {
	eager := req.GetBody != nil || req.ContentLength > 0
	body, err := serializeBody(req.Body, req.Header, eager)
	if err != nil {
		return nil, fmt.Errorf("codec: serialize request %s %s: %w", req.Method, req.URL, err)
	}
	return &SerializedRequest{
		URL:     req.URL.String(),
		Method:  req.Method,
		Headers: flattenHeaders(req.Header),
		Body:    body,
	}, nil
}

// SerializeResponse вычитывает и закрывает тело ответа.
// Ответ без Content-Length переносится как поток чанков.
func SerializeResponse(resp *http.Response) (*SerializedResponse, error) {
	eager := resp.ContentLength >= 0
	body, err := serializeBody(resp.Body, resp.Header, eager)
	if err != nil {
		return nil, fmt.Errorf("codec: serialize response %d: %w", resp.StatusCode, err)
	}
	return &SerializedResponse{
		Status:  resp.StatusCode,
		Headers: flattenHeaders(resp.Header),
		Body:    body,
	}, nil
}

// DeserializeRequest восстанавливает запрос, готовый к отправке.
func DeserializeRequest(ctx context.Context, s *SerializedRequest) (*http.Request, error) {
	header := expandHeaders(s.Headers)
	reader, length, err := decodeBody(s.Body, header)
	if err != nil {
		return nil, err
	}

	method := s.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, s.URL, reader)
	if err != nil {
		return nil, fmt.Errorf("codec: build request: %w", err)
	}
	req.Header = header
	if length < 0 {
		req.ContentLength = -1
	}
	return req, nil
}

// DeserializeResponse восстанавливает ответ. Потоковое тело читается один раз.
func DeserializeResponse(s *SerializedResponse) (*http.Response, error) {
	header := expandHeaders(s.Headers)
	reader, length, err := decodeBody(s.Body, header)
	if err != nil {
		return nil, err
	}

	var body io.ReadCloser = http.NoBody
	if reader != nil {
		body = io.NopCloser(reader)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.Status, http.StatusText(s.Status)),
		StatusCode:    s.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          body,
		ContentLength: length,
	}, nil
}

func serializeBody(body io.ReadCloser, header http.Header, eager bool) (*TaggedBody, error) {
	if body == nil || body == http.NoBody {
		return nil, nil
	}
	defer body.Close()

	mediaType, params := parseContentType(header.Get("Content-Type"))
	switch {
	case strings.Contains(mediaType, "application/json"):
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		var v any
		if err := api.Unmarshal(data, &v); err != nil {
			// Кривой JSON переносим байтами, чтобы не потерять содержимое.
			return &TaggedBody{Body: ArrayBufferBody{Data: data}}, nil
		}
		return &TaggedBody{Body: JSONBody{Value: v}}, nil

	case strings.Contains(mediaType, "text/plain"):
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(data) {
			return &TaggedBody{Body: ArrayBufferBody{Data: data}}, nil
		}
		return &TaggedBody{Body: TextBody{Value: string(data)}}, nil

	case strings.Contains(mediaType, "multipart/form-data"):
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		fields, err := parseFormData(data, params["boundary"])
		if err != nil {
			return &TaggedBody{Body: ArrayBufferBody{Data: data}}, nil
		}
		return &TaggedBody{Body: FormDataBody{Fields: fields}}, nil

	case eager:
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		return &TaggedBody{Body: ArrayBufferBody{Data: data}}, nil
	}

	chunks, err := drainChunks(body)
	if err != nil {
		return nil, err
	}
	return &TaggedBody{Body: StreamBody{Chunks: chunks}}, nil
}

// decodeBody возвращает reader тела и его длину (-1, если неизвестна).
// Для form-data заголовок Content-Type пересчитывается под новый boundary.
func decodeBody(t *TaggedBody, header http.Header) (io.Reader, int64, error) {
	if t == nil || t.Body == nil {
		return nil, 0, nil
	}

	switch b := t.Body.(type) {
	case JSONBody:
		data, err := api.Marshal(b.Value)
		if err != nil {
			return nil, 0, fmt.Errorf("codec: encode json body: %w", err)
		}
		return bytes.NewReader(data), int64(len(data)), nil
	case TextBody:
		return strings.NewReader(b.Value), int64(len(b.Value)), nil
	case FormDataBody:
		data, contentType, err := buildFormData(b.Fields)
		if err != nil {
			return nil, 0, err
		}
		header.Set("Content-Type", contentType)
		return bytes.NewReader(data), int64(len(data)), nil
	case ArrayBufferBody:
		return bytes.NewReader(b.Data), int64(len(b.Data)), nil
	case StreamBody:
		return newChunkReader(b.Chunks), -1, nil
	default:
		return nil, 0, fmt.Errorf("%w: %T", domain.ErrUnsupportedBodyEncoding, t.Body)
	}
}

func drainChunks(r io.Reader) ([][]byte, error) {
	var chunks [][]byte
	buf := make([]byte, streamChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunks = append(chunks, bytes.Clone(buf[:n]))
		}
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func parseContentType(raw string) (string, map[string]string) {
	if raw == "" {
		return "", nil
	}
	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil {
		head, _, _ := strings.Cut(raw, ";")
		return strings.ToLower(strings.TrimSpace(head)), nil
	}
	return mediaType, params
}

// flattenHeaders склеивает многозначные заголовки через ", ".
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func expandHeaders(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
