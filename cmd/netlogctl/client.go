package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/vx-labs/netlog/netlog"
)

type client struct {
	endpoint string
	http     *http.Client
}

func newClient(config *viper.Viper) *client {
	endpoint := config.GetString("host")
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	return &client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		http:     &http.Client{Timeout: config.GetDuration("timeout")},
	}
}

type envelope struct {
	Status  uint32          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// remoteEntry is a decoded LogEntry, as rendered by the server.
type remoteEntry struct {
	Timestamp uint64          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Encoding  string          `json:"encoding,omitempty"`
}

// Text returns the payload in a printable form: JSON payloads as-is, string
// payloads unquoted and binary payloads in base64.
func (e remoteEntry) Text() string {
	var text string
	if err := json.Unmarshal(e.Payload, &text); err == nil {
		return text
	}
	return string(e.Payload)
}

// Bytes returns the original payload bytes.
func (e remoteEntry) Bytes() ([]byte, error) {
	if e.Encoding == netlog.PayloadEncodingBase64 {
		text := ""
		if err := json.Unmarshal(e.Payload, &text); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(text)
	}
	var text string
	if err := json.Unmarshal(e.Payload, &text); err == nil {
		return []byte(text), nil
	}
	return e.Payload, nil
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	u := fmt.Sprintf("%s%s", c.endpoint, path)
	if len(query) > 0 {
		u = fmt.Sprintf("%s?%s", u, query.Encode())
	}
	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("unexpected HTTP status %s", resp.Status)
	}
	return resp, nil
}

func decodeEnvelope(r io.Reader, out interface{}) error {
	e := envelope{}
	err := json.NewDecoder(r).Decode(&e)
	if err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	if e.Status != 0 {
		return errors.New(e.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(e.Data, out)
}

func (c *client) call(ctx context.Context, method, path string, query url.Values, body io.Reader, out interface{}) error {
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp.Body, out)
}

func (c *client) Get(ctx context.Context, ts uint64) (remoteEntry, error) {
	out := remoteEntry{}
	err := c.call(ctx, http.MethodGet, "/server-network-log/get", url.Values{"time": {fmt.Sprintf("%d", ts)}}, nil, &out)
	return out, err
}

func (c *client) Info(ctx context.Context) (netlog.Metadata, error) {
	out := netlog.Metadata{}
	err := c.call(ctx, http.MethodGet, "/server-network-log/info", nil, nil, &out)
	return out, err
}

func (c *client) Routes(ctx context.Context) ([]string, error) {
	out := []string{}
	err := c.call(ctx, http.MethodGet, "/routes", nil, nil, &out)
	return out, err
}

func (c *client) Put(ctx context.Context, ts *uint64, payload []byte) (remoteEntry, error) {
	out := remoteEntry{}
	query := url.Values{}
	if ts != nil {
		query.Set("time", fmt.Sprintf("%d", *ts))
	}
	err := c.call(ctx, http.MethodPost, "/server-network-log/put", query, bytes.NewReader(payload), &out)
	return out, err
}

// Range fetches a range result and returns its plain text form, decompressing
// it when the server sent it compressed.
func (c *client) Range(ctx context.Context, from, to uint64, compressed bool) ([]byte, error) {
	query := url.Values{
		"time":  {fmt.Sprintf("%d..%d", from, to)},
		"bzip3": {fmt.Sprintf("%v", compressed)},
	}
	resp, err := c.do(ctx, http.MethodGet, "/server-network-log/get", query, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		return nil, decodeEnvelope(resp.Body, nil)
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if contentType != netlog.ZstdContentType {
		return body, nil
	}
	codec, err := netlog.NewZstdCodec()
	if err != nil {
		return nil, err
	}
	return codec.Decompress(body)
}

// Export copies the raw log of the remote store to w.
func (c *client) Export(ctx context.Context, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/server-network-log/export", nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return 0, decodeEnvelope(resp.Body, nil)
	}
	return io.Copy(w, resp.Body)
}

func parseLines(body []byte) ([]remoteEntry, error) {
	out := []remoteEntry{}
	dec := json.NewDecoder(bytes.NewReader(body))
	for dec.More() {
		entry := remoteEntry{}
		if err := dec.Decode(&entry); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func defaultTimeout() time.Duration {
	return 10 * time.Second
}
