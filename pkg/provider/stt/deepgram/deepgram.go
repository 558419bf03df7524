// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Each Transcribe call opens a fresh WebSocket connection, streams the
// segment's PCM in one pass, closes the stream, and collects the final
// results the server sends back. Segments in this pipeline are short (a few
// seconds of speech) so per-call connection setup is negligible next to the
// recognition itself, and it keeps the provider stateless between calls.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/tapscribe/tapscribe/pkg/audio"
	"github.com/tapscribe/tapscribe/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// sendChunkBytes bounds the size of individual binary frames so the
	// server can start recognition before the whole segment has arrived.
	sendChunkBytes = 8192
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used by tests to point the
// provider at a local mock server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "deepgram" }

// Transcribe implements stt.Provider. It converts the segment to 16-bit PCM,
// streams it to Deepgram over a WebSocket, and joins the final transcripts
// the server returns. ctx bounds the entire exchange.
func (p *Provider) Transcribe(ctx context.Context, seg audio.Segment) (string, error) {
	wsURL, err := p.buildURL(seg.SampleRate)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", stt.ErrUnavailable, err)
		}
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "segment done")

	// Deepgram caps message sizes well below a full segment; raise the read
	// limit so large result payloads with word timings fit.
	conn.SetReadLimit(1 << 20)

	if err := p.sendSegment(ctx, conn, seg); err != nil {
		return "", err
	}

	return p.collectFinals(ctx, conn)
}

// buildURL assembles the WebSocket URL with recognition parameters for raw
// 16-bit little-endian mono PCM at the segment's sample rate.
func (p *Provider) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sendSegment streams the segment as binary PCM frames followed by the
// CloseStream control message that tells Deepgram no more audio is coming.
func (p *Provider) sendSegment(ctx context.Context, conn *websocket.Conn, seg audio.Segment) error {
	pcm := audio.PCM16FromFloat32(seg.Samples)
	for off := 0; off < len(pcm); off += sendChunkBytes {
		end := off + sendChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	closeMsg := []byte(`{"type":"CloseStream"}`)
	if err := conn.Write(ctx, websocket.MessageText, closeMsg); err != nil {
		return fmt.Errorf("deepgram: send CloseStream: %w", err)
	}
	return nil
}

// collectFinals reads result messages until the server closes the connection
// and returns the final transcripts joined with single spaces.
func (p *Provider) collectFinals(ctx context.Context, conn *websocket.Conn) (string, error) {
	var finals []string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || errors.Is(err, io.EOF) {
				return strings.Join(finals, " "), nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", fmt.Errorf("deepgram: %w", ctxErr)
			}
			return "", fmt.Errorf("deepgram: read results: %w", err)
		}

		var resp deepgramResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			// Deepgram also sends metadata frames; skip anything that does
			// not parse as a results payload.
			continue
		}
		if resp.Type != "Results" || !resp.IsFinal {
			continue
		}
		if len(resp.Channel.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript); text != "" {
			finals = append(finals, text)
		}
	}
}

// deepgramResponse mirrors the subset of the Deepgram live API response this
// provider consumes.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}
