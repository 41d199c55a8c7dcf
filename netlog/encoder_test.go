package netlog

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingCodec struct{}

func (failingCodec) Name() string                    { return "failing" }
func (failingCodec) ContentType() string             { return "application/octet-stream" }
func (failingCodec) Compress([]byte) ([]byte, error) { return nil, errors.New("codec exploded") }
func (failingCodec) Decompress([]byte) ([]byte, error) {
	return nil, errors.New("codec exploded")
}

func TestLogEntry_MarshalJSON(t *testing.T) {
	t.Run("should embed JSON payloads", func(t *testing.T) {
		out, err := LogEntry{Timestamp: 4, Payload: []byte(`{"src": "10.0.0.1"}`)}.MarshalJSON()
		require.NoError(t, err)
		require.JSONEq(t, `{"timestamp":4,"payload":{"src":"10.0.0.1"}}`, string(out))
	})
	t.Run("should quote other payloads", func(t *testing.T) {
		out, err := LogEntry{Timestamp: 4, Payload: []byte("link down\neth0")}.MarshalJSON()
		require.NoError(t, err)
		require.Equal(t, `{"timestamp":4,"payload":"link down\neth0"}`, string(out))
	})
	t.Run("should base64 encode binary payloads", func(t *testing.T) {
		payload := []byte{0xff, 0xfe, 0x00, 0x61}
		out, err := LogEntry{Timestamp: 4, Payload: payload}.MarshalJSON()
		require.NoError(t, err)
		rendered := struct {
			Payload  string `json:"payload"`
			Encoding string `json:"encoding"`
		}{}
		require.NoError(t, json.Unmarshal(out, &rendered))
		require.Equal(t, PayloadEncodingBase64, rendered.Encoding)
		decoded, err := base64.StdEncoding.DecodeString(rendered.Payload)
		require.NoError(t, err)
		require.Equal(t, payload, decoded)
	})
	t.Run("should keep valid UTF-8 text as a string", func(t *testing.T) {
		out, err := LogEntry{Timestamp: 4, Payload: []byte("état\x00")}.MarshalJSON()
		require.NoError(t, err)
		require.Equal(t, `{"timestamp":4,"payload":"état\u0000"}`, string(out))
	})
}

func TestZstdCodec(t *testing.T) {
	codec, err := NewZstdCodec()
	require.NoError(t, err)
	for _, input := range [][]byte{
		[]byte("{\"timestamp\":10,\"payload\":\"a\"}\n"),
		bytes.Repeat([]byte("network event\n"), 1000),
	} {
		compressed, err := codec.Compress(input)
		require.NoError(t, err)
		out, err := codec.Decompress(compressed)
		require.NoError(t, err)
		require.Equal(t, input, out)
	}
	compressed, err := codec.Compress(nil)
	require.NoError(t, err)
	require.NotEmpty(t, compressed)
	out, err := codec.Decompress(compressed)
	require.NoError(t, err)
	require.Empty(t, out)

	_, err = codec.Decompress([]byte("not zstd"))
	require.Error(t, err)
}

func TestEncoder(t *testing.T) {
	s := openStore(t, t.TempDir(), "memory")
	defer s.Close()
	appendAll(t, s, 30, 10, 20)
	codec, err := NewZstdCodec()
	require.NoError(t, err)

	expected := "{\"timestamp\":10,\"payload\":{\"ts\":10}}\n" +
		"{\"timestamp\":20,\"payload\":{\"ts\":20}}\n" +
		"{\"timestamp\":30,\"payload\":{\"ts\":30}}\n"

	t.Run("should render one line per entry", func(t *testing.T) {
		scanner, err := s.Scan(10, 30)
		require.NoError(t, err)
		out, err := NewEncoder(codec).Encode(scanner, false)
		require.NoError(t, err)
		require.Equal(t, TextContentType, out.ContentType)
		require.Equal(t, 3, out.EntryCount)
		require.Equal(t, expected, string(out.Body))
		require.Len(t, strings.Split(strings.TrimSuffix(string(out.Body), "\n"), "\n"), 3)
	})
	t.Run("should compress the text rendering", func(t *testing.T) {
		scanner, err := s.Scan(10, 30)
		require.NoError(t, err)
		out, err := NewEncoder(codec).Encode(scanner, true)
		require.NoError(t, err)
		require.Equal(t, ZstdContentType, out.ContentType)
		plain, err := codec.Decompress(out.Body)
		require.NoError(t, err)
		require.Equal(t, expected, string(plain))
	})
	t.Run("should report codec failures without falling back", func(t *testing.T) {
		scanner, err := s.Scan(10, 30)
		require.NoError(t, err)
		_, err = NewEncoder(failingCodec{}).Encode(scanner, true)
		var compressionErr *CompressionError
		require.True(t, errors.As(err, &compressionErr))
		require.Equal(t, "Compression failed", ErrorMessage(err))
	})
	t.Run("should produce a valid frame for an empty range", func(t *testing.T) {
		for _, r := range [][2]uint64{{30, 10}, {100, 200}} {
			scanner, err := s.Scan(r[0], r[1])
			require.NoError(t, err)
			out, err := NewEncoder(codec).Encode(scanner, true)
			require.NoError(t, err)
			require.Equal(t, ZstdContentType, out.ContentType)
			require.Equal(t, 0, out.EntryCount)
			require.NotEmpty(t, out.Body)
			plain, err := codec.Decompress(out.Body)
			require.NoError(t, err)
			require.Empty(t, plain)
		}
	})
	t.Run("should not use the codec for plain text", func(t *testing.T) {
		scanner, err := s.Scan(10, 30)
		require.NoError(t, err)
		out, err := NewEncoder(failingCodec{}).Encode(scanner, false)
		require.NoError(t, err)
		require.Equal(t, expected, string(out.Body))
	})
}

func TestErrorMessage(t *testing.T) {
	require.Equal(t, "Invalid query", ErrorMessage(ErrInvalidQuery))
	require.Equal(t, "Not found", ErrorMessage(ErrNotFound))
	require.Equal(t, "storage error: read: disk gone", ErrorMessage(storageError("read", errors.New("disk gone"))))
	require.True(t, isExpected(ErrNotFound))
	require.False(t, isExpected(storageError("read", errors.New("disk gone"))))
}
