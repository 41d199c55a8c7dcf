package netlog

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/valyala/fastjson"
	"github.com/vx-labs/netlog/netlog/stats"
	"go.uber.org/zap"
)

// Appender stores entries. *Store implements it.
type Appender interface {
	Append(ctx context.Context, ts uint64, payload []byte) (LogEntry, error)
}

type Collector interface {
	Run(ctx context.Context) error
}

type CollectorConfig struct {
	Broker   string
	Topic    string
	Username string
	Password string
	ClientID string
	// TimestampField names the JSON payload field holding the event timestamp.
	// Messages without it are stamped with their reception time.
	TimestampField string
}

type mqttCollector struct {
	opts           *MQTT.ClientOptions
	topic          string
	timestampField string
	store          Appender
	parsers        fastjson.ParserPool
	now            func() time.Time
}

func (m *mqttCollector) Run(ctx context.Context) error {
	m.opts.OnConnect = func(c MQTT.Client) {
		L(ctx).Info("subscribing to network log topic", zap.String("mqtt_topic", m.topic))
		token := c.Subscribe(m.topic, 1, func(_ MQTT.Client, msg MQTT.Message) {
			m.handle(ctx, msg)
		})
		if token.Wait() && token.Error() != nil {
			L(ctx).Error("failed to subscribe", zap.String("mqtt_topic", m.topic), zap.Error(token.Error()))
		}
	}
	c := MQTT.NewClient(m.opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	<-ctx.Done()
	c.Disconnect(500)
	return nil
}

// timestamp extracts the event timestamp from a JSON payload.
func (m *mqttCollector) timestamp(payload []byte) (uint64, bool) {
	p := m.parsers.Get()
	defer m.parsers.Put(p)
	v, err := p.ParseBytes(payload)
	if err != nil {
		return 0, false
	}
	field := v.Get(m.timestampField)
	if field == nil {
		return 0, false
	}
	ts, err := field.Uint64()
	if err != nil {
		return 0, false
	}
	return ts, true
}

func (m *mqttCollector) handle(ctx context.Context, msg MQTT.Message) {
	if msg.Retained() {
		return
	}
	L(ctx).Debug("mqtt message collected",
		zap.String("mqtt_topic", msg.Topic()), zap.Int("mqtt_payload_size", len(msg.Payload())))
	ts, ok := m.timestamp(msg.Payload())
	if !ok {
		ts = uint64(m.now().Unix())
	}
	_, err := m.store.Append(ctx, ts, msg.Payload())
	result := "stored"
	if err != nil {
		result = "failed"
		L(ctx).Error("failed to store collected message", zap.String("mqtt_topic", msg.Topic()), zap.Error(err))
	}
	stats.CounterVec("collectedMessages").With(map[string]string{
		"collector": "mqtt",
		"result":    result,
	}).Inc()
}

// MQTTCollector returns a Collector appending every message published on
// config.Topic to store.
func MQTTCollector(store Appender, config CollectorConfig) (Collector, error) {
	opts := MQTT.NewClientOptions().AddBroker(config.Broker)
	opts.Username = config.Username
	opts.Password = config.Password
	if config.ClientID != "" {
		opts.SetClientID(config.ClientID)
	}
	brokerURL, err := url.Parse(config.Broker)
	if err != nil {
		return nil, err
	}
	if brokerURL.Scheme == "tls" {
		host, _, _ := net.SplitHostPort(brokerURL.Host)
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		}
	}
	opts.AutoReconnect = true
	if config.Topic == "" {
		config.Topic = "#"
	}
	if config.TimestampField == "" {
		config.TimestampField = "timestamp"
	}
	return &mqttCollector{
		opts:           opts,
		topic:          config.Topic,
		timestampField: config.TimestampField,
		store:          store,
		now:            time.Now,
	}, nil
}
