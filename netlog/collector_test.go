package netlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	topic    string
	payload  []byte
	retained bool
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return m.retained }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingAppender struct {
	entries []LogEntry
	err     error
}

func (r *recordingAppender) Append(ctx context.Context, ts uint64, payload []byte) (LogEntry, error) {
	if r.err != nil {
		return LogEntry{}, r.err
	}
	entry := LogEntry{Timestamp: ts, Offset: uint64(len(r.entries)), Payload: payload}
	r.entries = append(r.entries, entry)
	return entry, nil
}

func testCollector(t *testing.T, store Appender, config CollectorConfig) *mqttCollector {
	c, err := MQTTCollector(store, config)
	require.NoError(t, err)
	collector := c.(*mqttCollector)
	collector.now = func() time.Time { return time.Unix(1000, 0) }
	return collector
}

func TestMQTTCollector(t *testing.T) {
	t.Run("should apply defaults", func(t *testing.T) {
		c := testCollector(t, &recordingAppender{}, CollectorConfig{Broker: "tcp://localhost:1883"})
		require.Equal(t, "#", c.topic)
		require.Equal(t, "timestamp", c.timestampField)
	})
	t.Run("should configure TLS for tls brokers", func(t *testing.T) {
		c := testCollector(t, &recordingAppender{}, CollectorConfig{Broker: "tls://broker.example.net:8883"})
		require.NotNil(t, c.opts.TLSConfig)
		require.Equal(t, "broker.example.net", c.opts.TLSConfig.ServerName)
	})
	t.Run("should stamp entries with the payload timestamp", func(t *testing.T) {
		store := &recordingAppender{}
		c := testCollector(t, store, CollectorConfig{Broker: "tcp://localhost:1883", TimestampField: "ts"})
		c.handle(testContext(), fakeMessage{topic: "net/eth0", payload: []byte(`{"ts": 42, "event": "up"}`)})
		require.Len(t, store.entries, 1)
		require.Equal(t, uint64(42), store.entries[0].Timestamp)
		require.Equal(t, `{"ts": 42, "event": "up"}`, string(store.entries[0].Payload))
	})
	t.Run("should fall back to the reception time", func(t *testing.T) {
		store := &recordingAppender{}
		c := testCollector(t, store, CollectorConfig{Broker: "tcp://localhost:1883"})
		for _, payload := range []string{"link down", `{"event":"up"}`, `{"timestamp":"yesterday"}`, `{"timestamp":-4}`} {
			c.handle(testContext(), fakeMessage{topic: "net/eth0", payload: []byte(payload)})
		}
		require.Len(t, store.entries, 4)
		for _, entry := range store.entries {
			require.Equal(t, uint64(1000), entry.Timestamp)
		}
	})
	t.Run("should skip retained messages", func(t *testing.T) {
		store := &recordingAppender{}
		c := testCollector(t, store, CollectorConfig{Broker: "tcp://localhost:1883"})
		c.handle(testContext(), fakeMessage{topic: "net/eth0", payload: []byte("old"), retained: true})
		require.Empty(t, store.entries)
	})
	t.Run("should survive store failures", func(t *testing.T) {
		store := &recordingAppender{err: errors.New("disk full")}
		c := testCollector(t, store, CollectorConfig{Broker: "tcp://localhost:1883"})
		c.handle(testContext(), fakeMessage{topic: "net/eth0", payload: []byte("event")})
		require.Empty(t, store.entries)
	})
}

func TestMQTTCollector_Store(t *testing.T) {
	s := openStore(t, t.TempDir(), "memory")
	defer s.Close()
	c := testCollector(t, s, CollectorConfig{Broker: "tcp://localhost:1883"})
	c.handle(testContext(), fakeMessage{topic: "net/eth0", payload: []byte(`{"timestamp":7,"event":"up"}`)})
	entry, err := s.Get(7)
	require.NoError(t, err)
	require.Equal(t, `{"timestamp":7,"event":"up"}`, string(entry.Payload))
}
