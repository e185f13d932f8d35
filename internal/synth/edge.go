package synth

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/readaloud/internal/audio"
)

const trustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

// EdgeConfig configures the consumer read-aloud endpoint client.
type EdgeConfig struct {
	URL          string
	VoicesURL    string
	Token        string
	OutputFormat string
	DialTimeout  time.Duration
	RequestRate  rate.Limit
	Burst        int
}

// DefaultEdgeConfig returns the public endpoint with raw PCM output, rate
// limited to two requests per second.
func DefaultEdgeConfig() EdgeConfig {
	return EdgeConfig{
		URL:          "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1",
		VoicesURL:    "https://speech.platform.bing.com/consumer/speech/synthesize/readaloud/voices/list",
		Token:        trustedClientToken,
		OutputFormat: "raw-24khz-16bit-mono-pcm",
		DialTimeout:  10 * time.Second,
		RequestRate:  rate.Limit(2),
		Burst:        1,
	}
}

// EdgeClient synthesizes speech over the read-aloud websocket protocol: one
// connection per request carrying a config frame, an SSML frame, then binary
// audio chunks until the service signals turn.end.
type EdgeClient struct {
	cfg     EdgeConfig
	limiter *rate.Limiter
	format  audio.PCMFormat
	http    *http.Client

	mu     sync.Mutex
	voices []Voice
}

var _ Client = (*EdgeClient)(nil)

// NewEdgeClient returns a client for cfg. Zero config fields fall back to
// the defaults.
func NewEdgeClient(cfg EdgeConfig) *EdgeClient {
	def := DefaultEdgeConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.VoicesURL == "" {
		cfg.VoicesURL = def.VoicesURL
	}
	if cfg.Token == "" {
		cfg.Token = def.Token
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = def.OutputFormat
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.RequestRate <= 0 {
		cfg.RequestRate = def.RequestRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}

	return &EdgeClient{
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.RequestRate, cfg.Burst),
		format:  audio.DefaultPCMFormat(),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Synthesize renders text with the given voice and returns the raw PCM.
func (c *EdgeClient) Synthesize(ctx context.Context, text, voice string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, &Error{Kind: KindUnknown, Voice: voice, Err: errors.New("empty text")}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	// Force reads to fail when the caller loses interest.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	if err := c.sendConfig(conn); err != nil {
		return Result{}, c.wrapSendErr(ctx, voice, err)
	}
	if err := c.sendSSML(conn, text, voice); err != nil {
		return Result{}, c.wrapSendErr(ctx, voice, err)
	}

	pcm, err := c.readAudio(ctx, conn, voice)
	if err != nil {
		return Result{}, err
	}
	return Result{Audio: pcm, Duration: c.format.Duration(len(pcm))}, nil
}

// dial opens the websocket connection and classifies handshake failures.
func (c *EdgeClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	u := fmt.Sprintf("%s?TrustedClientToken=%s&ConnectionId=%s", c.cfg.URL, c.cfg.Token, requestID())

	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, &Error{Kind: KindRateLimited, Err: err}
		}
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	return conn, nil
}

func (c *EdgeClient) wrapSendErr(ctx context.Context, voice string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &Error{Kind: KindNetwork, Voice: voice, Err: err}
}

// sendConfig sends the speech.config frame selecting the output format.
func (c *EdgeClient) sendConfig(conn *websocket.Conn) error {
	payload := fmt.Sprintf(
		`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"%s"}}}}`,
		c.cfg.OutputFormat,
	)
	frame := fmt.Sprintf(
		"X-Timestamp:%s\r\nContent-Type:application/json; charset=utf-8\r\nPath:speech.config\r\n\r\n%s",
		frameTimestamp(), payload,
	)
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// sendSSML sends the synthesis request frame.
func (c *EdgeClient) sendSSML(conn *websocket.Conn, text, voice string) error {
	ssml := fmt.Sprintf(
		`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'><voice name='%s'>%s</voice></speak>`,
		escapeSSML(voice), escapeSSML(text),
	)
	frame := fmt.Sprintf(
		"X-RequestId:%s\r\nContent-Type:application/ssml+xml\r\nX-Timestamp:%s\r\nPath:ssml\r\n\r\n%s",
		requestID(), frameTimestamp(), ssml,
	)
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// readAudio collects binary audio frames until the service ends the turn.
func (c *EdgeClient) readAudio(ctx context.Context, conn *websocket.Conn, voice string) ([]byte, error) {
	var pcm bytes.Buffer
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, classifyReadErr(voice, err)
		}

		switch msgType {
		case websocket.TextMessage:
			if framePath(data) == "turn.end" {
				if pcm.Len() == 0 {
					return nil, &Error{Kind: KindUnknown, Voice: voice, Err: errors.New("service returned no audio")}
				}
				return pcm.Bytes(), nil
			}
		case websocket.BinaryMessage:
			payload, err := binaryPayload(data)
			if err != nil {
				return nil, &Error{Kind: KindUnknown, Voice: voice, Err: err}
			}
			pcm.Write(payload)
		}
	}
}

// classifyReadErr maps websocket close codes onto failure kinds. The service
// closes with a payload or policy error when the voice name is not accepted.
func classifyReadErr(voice string, err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseInvalidFramePayloadData, websocket.ClosePolicyViolation:
			return &Error{Kind: KindInvalidVoice, Voice: voice, Err: err}
		}
	}
	return &Error{Kind: KindNetwork, Voice: voice, Err: err}
}

// binaryPayload strips the binary frame header: a two byte big-endian header
// length, the headers, then audio. Non-audio frames yield no payload.
func binaryPayload(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, errors.New("binary frame too short")
	}
	headerLen := int(binary.BigEndian.Uint16(data))
	if 2+headerLen > len(data) {
		return nil, fmt.Errorf("binary frame header length %d exceeds frame size %d", headerLen, len(data))
	}
	headers := data[2 : 2+headerLen]
	if !bytes.Contains(headers, []byte("Path:audio")) {
		return nil, nil
	}
	return data[2+headerLen:], nil
}

// framePath extracts the Path header of a text frame.
func framePath(data []byte) string {
	head, _, _ := bytes.Cut(data, []byte("\r\n\r\n"))
	for _, line := range bytes.Split(head, []byte("\r\n")) {
		if name, value, ok := bytes.Cut(line, []byte(":")); ok {
			if string(bytes.TrimSpace(name)) == "Path" {
				return string(bytes.TrimSpace(value))
			}
		}
	}
	return ""
}

// Voices fetches the service voice catalog. The list is cached for the
// lifetime of the client.
func (c *EdgeClient) Voices(ctx context.Context) ([]Voice, error) {
	c.mu.Lock()
	if len(c.voices) > 0 {
		cached := c.voices
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	u := fmt.Sprintf("%s?trustedclienttoken=%s", c.cfg.VoicesURL, c.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindRateLimited, Err: fmt.Errorf("voice list: HTTP %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{Kind: KindUnknown, Err: fmt.Errorf("voice list: HTTP %d", resp.StatusCode)}
	}

	var voices []Voice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, &Error{Kind: KindUnknown, Err: fmt.Errorf("unable to decode voice list: %w", err)}
	}

	log.Debug("fetched voice catalog", "count", len(voices))

	c.mu.Lock()
	c.voices = voices
	c.mu.Unlock()
	return voices, nil
}

var ssmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

func escapeSSML(s string) string {
	return ssmlEscaper.Replace(s)
}

// requestID returns a connection or request identifier in the dashless form
// the service expects.
func requestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func frameTimestamp() string {
	return time.Now().UTC().Format(time.RFC1123)
}
