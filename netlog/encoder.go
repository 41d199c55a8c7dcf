package netlog

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

const (
	TextContentType = "text/plain; charset=utf-8"
	ZstdContentType = "application/zstd"
)

// Codec is a lossless compression algorithm used for range results.
type Codec interface {
	Name() string
	ContentType() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

type zstdCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCodec returns a zstd Codec. It is safe for concurrent use.
// Empty input still produces a complete frame.
func NewZstdCodec() (Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithZeroFrames(true))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &zstdCodec{encoder: enc, decoder: dec}, nil
}

func (z *zstdCodec) Name() string        { return "zstd" }
func (z *zstdCodec) ContentType() string { return ZstdContentType }
func (z *zstdCodec) Compress(src []byte) ([]byte, error) {
	return z.encoder.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}
func (z *zstdCodec) Decompress(src []byte) ([]byte, error) {
	return z.decoder.DecodeAll(src, nil)
}

// WriteText renders every remaining scanner entry as one JSON document per line.
func WriteText(w io.Writer, scanner *Scanner) error {
	enc := json.NewEncoder(w)
	for {
		entry, err := scanner.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		err = enc.Encode(entry)
		if err != nil {
			return errors.Wrap(err, "failed to render entry")
		}
	}
}

// Rendered is an encoded range result.
type Rendered struct {
	ContentType string
	Body        []byte
	EntryCount  int
}

// Encoder renders range results, compressed or as plain text.
// The encoding is chosen by the caller only.
type Encoder struct {
	codec Codec
}

func NewEncoder(codec Codec) *Encoder {
	return &Encoder{codec: codec}
}

func (e *Encoder) Encode(scanner *Scanner, compress bool) (Rendered, error) {
	buf := bytes.NewBuffer(nil)
	err := WriteText(buf, scanner)
	if err != nil {
		return Rendered{}, err
	}
	if !compress {
		return Rendered{ContentType: TextContentType, Body: buf.Bytes(), EntryCount: scanner.Len()}, nil
	}
	body, err := e.codec.Compress(buf.Bytes())
	if err != nil {
		return Rendered{}, &CompressionError{Codec: e.codec.Name(), Err: err}
	}
	return Rendered{ContentType: e.codec.ContentType(), Body: body, EntryCount: scanner.Len()}, nil
}
