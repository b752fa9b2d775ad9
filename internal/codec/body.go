package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/xela07ax/cors-relay/internal/domain"
)

// api: единая конфигурация JSON для всего транспорта через границу.
// UseNumber сохраняет числа без потерь точности при пересериализации.
var api = sonic.Config{
	UseNumber:   true,
	SortMapKeys: true,
}.Froze()

// Marshal сериализует сообщение в транспортный JSON.
func Marshal(v any) ([]byte, error) { return api.Marshal(v) }

// Unmarshal разбирает транспортный JSON.
func Unmarshal(data []byte, v any) error { return api.Unmarshal(data, v) }

// BodyType: тег размеченного объединения тел.
type BodyType string

const (
	BodyJSON           BodyType = "json"
	BodyText           BodyType = "text"
	BodyFormData       BodyType = "form-data"
	BodyArrayBuffer    BodyType = "array-buffer"
	BodyReadableStream BodyType = "readable-stream"
)

// Body: закрытая сумма вариантов тела. Реализации только в этом пакете.
type Body interface {
	Type() BodyType
	isBody()
}

// JSONBody: разобранное JSON-значение.
type JSONBody struct{ Value any }

// TextBody: текст text/plain (только валидный UTF-8).
type TextBody struct{ Value string }

// FormDataBody: плоская карта полей multipart/form-data.
type FormDataBody struct{ Fields map[string]string }

// ArrayBufferBody: произвольные байты, переносятся как base64.
type ArrayBufferBody struct{ Data []byte }

// StreamBody: вычитанный живой поток, упорядоченные чанки.
type StreamBody struct{ Chunks [][]byte }

func (JSONBody) Type() BodyType        { return BodyJSON }
func (TextBody) Type() BodyType        { return BodyText }
func (FormDataBody) Type() BodyType    { return BodyFormData }
func (ArrayBufferBody) Type() BodyType { return BodyArrayBuffer }
func (StreamBody) Type() BodyType      { return BodyReadableStream }

func (JSONBody) isBody()        {}
func (TextBody) isBody()        {}
func (FormDataBody) isBody()    {}
func (ArrayBufferBody) isBody() {}
func (StreamBody) isBody()      {}

// TaggedBody: самоописывающая обертка {type, value} для передачи Body через границу.
type TaggedBody struct {
	Body Body
}

type envelope struct {
	Type  BodyType        `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (t TaggedBody) MarshalJSON() ([]byte, error) {
	var value any
	switch b := t.Body.(type) {
	case JSONBody:
		value = b.Value
	case TextBody:
		value = b.Value
	case FormDataBody:
		fields := b.Fields
		if fields == nil {
			fields = map[string]string{}
		}
		value = fields
	case ArrayBufferBody:
		value = base64.StdEncoding.EncodeToString(b.Data)
	case StreamBody:
		chunks := make([]string, len(b.Chunks))
		for i, c := range b.Chunks {
			chunks[i] = base64.StdEncoding.EncodeToString(c)
		}
		value = chunks
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnsupportedBodyEncoding, t.Body)
	}

	raw, err := api.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %s body: %w", t.Body.Type(), err)
	}
	return api.Marshal(envelope{Type: t.Body.Type(), Value: raw})
}

func (t *TaggedBody) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := api.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("codec: malformed body envelope: %w", err)
	}
	if len(env.Value) == 0 {
		return fmt.Errorf("%w: %q without value", domain.ErrUnsupportedBodyEncoding, env.Type)
	}

	switch env.Type {
	case BodyJSON:
		var v any
		if err := api.Unmarshal(env.Value, &v); err != nil {
			return fmt.Errorf("codec: json body: %w", err)
		}
		t.Body = JSONBody{Value: v}
	case BodyText:
		var s string
		if err := api.Unmarshal(env.Value, &s); err != nil {
			return fmt.Errorf("codec: text body: %w", err)
		}
		t.Body = TextBody{Value: s}
	case BodyFormData:
		fields := map[string]string{}
		if err := api.Unmarshal(env.Value, &fields); err != nil {
			return fmt.Errorf("codec: form-data body: %w", err)
		}
		t.Body = FormDataBody{Fields: fields}
	case BodyArrayBuffer:
		var s string
		if err := api.Unmarshal(env.Value, &s); err != nil {
			return fmt.Errorf("codec: array-buffer body: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("codec: array-buffer body: %w", err)
		}
		t.Body = ArrayBufferBody{Data: data}
	case BodyReadableStream:
		var encoded []string
		if err := api.Unmarshal(env.Value, &encoded); err != nil {
			return fmt.Errorf("codec: readable-stream body: %w", err)
		}
		chunks := make([][]byte, len(encoded))
		for i, s := range encoded {
			c, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return fmt.Errorf("codec: readable-stream chunk %d: %w", i, err)
			}
			chunks[i] = c
		}
		t.Body = StreamBody{Chunks: chunks}
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedBodyEncoding, env.Type)
	}
	return nil
}
