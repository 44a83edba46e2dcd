package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/linkedin/goavro/v2"
)

// magicByte prefixes every registry framed value.
const magicByte = 0

// ErrNotFramed marks values that do not carry the registry wire header.
var ErrNotFramed = errors.New("stream: value is not registry framed")

// SchemaSource resolves a schema id to its definition.
type SchemaSource interface {
	GetByID(ctx context.Context, id int) (*Schema, error)
}

// AvroDeserializer decodes values framed as magic byte, 4 byte big endian
// schema id, Avro binary body.
type AvroDeserializer struct {
	schemas SchemaSource

	mu     sync.Mutex
	codecs map[string]*goavro.Codec // by schema text
}

func NewAvroDeserializer(schemas SchemaSource) *AvroDeserializer {
	return &AvroDeserializer{schemas: schemas, codecs: map[string]*goavro.Codec{}}
}

// Deserialize returns the Avro native form of data (map[string]any for
// records).
func (d *AvroDeserializer) Deserialize(ctx context.Context, data []byte) (any, error) {
	id, body, err := splitFrame(data)
	if err != nil {
		return nil, err
	}
	s, err := d.schemas.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Type != "" && s.Type != "AVRO" {
		return nil, fmt.Errorf("stream: schema %d is %s, not AVRO", id, s.Type)
	}
	codec, err := d.codec(s.Schema)
	if err != nil {
		return nil, fmt.Errorf("stream: schema %d: %w", id, err)
	}
	native, rest, err := codec.NativeFromBinary(body)
	if err != nil {
		return nil, fmt.Errorf("stream: decode with schema %d: %w", id, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("stream: %d trailing bytes after schema %d body", len(rest), id)
	}
	return native, nil
}

func (d *AvroDeserializer) codec(schema string) (*goavro.Codec, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.codecs[schema]; ok {
		return c, nil
	}
	c, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, err
	}
	d.codecs[schema] = c
	return c, nil
}

func splitFrame(data []byte) (int, []byte, error) {
	if len(data) < 5 {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrNotFramed, len(data))
	}
	if data[0] != magicByte {
		return 0, nil, fmt.Errorf("%w: magic byte %d", ErrNotFramed, data[0])
	}
	return int(binary.BigEndian.Uint32(data[1:5])), data[5:], nil
}

// Frame prepends the registry wire header to an encoded body.
func Frame(id int, body []byte) []byte {
	out := make([]byte, 5, 5+len(body))
	out[0] = magicByte
	binary.BigEndian.PutUint32(out[1:5], uint32(id))
	return append(out, body...)
}
