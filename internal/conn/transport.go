package conn

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/clinchat/clinchat/internal/rest"
)

// Transport holds one push channel open. Run blocks until the channel
// drops or ctx is cancelled, invoking connected once the channel is
// established and frame for every raw event received. A returned AuthError
// means the credential was rejected and reconnecting is pointless.
type Transport interface {
	Name() string
	Run(ctx context.Context, connected func(), frame func([]byte)) error
}

// wsTransport is the preferred push transport. It dials the hub endpoint
// over websocket, rewriting an http(s) push URL scheme to ws(s).
type wsTransport struct {
	pushURL          string
	creds            rest.CredentialSource
	handshakeTimeout time.Duration
}

func newWSTransport(pushURL string, creds rest.CredentialSource, handshakeTimeout time.Duration) *wsTransport {
	return &wsTransport{pushURL: pushURL, creds: creds, handshakeTimeout: handshakeTimeout}
}

func (t *wsTransport) Name() string { return "websocket" }

func wsURL(pushURL string) string {
	switch {
	case strings.HasPrefix(pushURL, "https://"):
		return "wss://" + strings.TrimPrefix(pushURL, "https://")
	case strings.HasPrefix(pushURL, "http://"):
		return "ws://" + strings.TrimPrefix(pushURL, "http://")
	}
	return pushURL
}

func (t *wsTransport) Run(ctx context.Context, connected func(), frame func([]byte)) error {
	token, err := t.creds.Token()
	if err != nil {
		return &rest.AuthError{Op: "ws dial", Status: 0}
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.handshakeTimeout)
	defer cancel()

	c, resp, err := websocket.Dial(dialCtx, wsURL(t.pushURL), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return &rest.AuthError{Op: "ws dial", Status: resp.StatusCode}
		}
		return fmt.Errorf("ws dial: %w", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	connected()

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ws read: %w", err)
		}
		frame(data)
	}
}

// sseTransport is the fallback push transport: a long-lived GET whose body
// is a text/event-stream, one frame per "data:" line.
type sseTransport struct {
	pushURL string
	creds   rest.CredentialSource
	http    *http.Client
}

func newSSETransport(pushURL string, creds rest.CredentialSource, httpClient *http.Client) *sseTransport {
	if httpClient == nil {
		// No overall timeout; the stream stays open indefinitely.
		httpClient = &http.Client{}
	}
	return &sseTransport{pushURL: pushURL, creds: creds, http: httpClient}
}

func (t *sseTransport) Name() string { return "sse" }

func (t *sseTransport) Run(ctx context.Context, connected func(), frame func([]byte)) error {
	token, err := t.creds.Token()
	if err != nil {
		return &rest.AuthError{Op: "sse connect", Status: 0}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.pushURL, nil)
	if err != nil {
		return fmt.Errorf("sse request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("sse connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &rest.AuthError{Op: "sse connect", Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("sse connect: HTTP %d", resp.StatusCode)
	}

	connected()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok && data != "" {
			frame([]byte(data))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("sse read: %w", err)
	}
	return fmt.Errorf("sse stream closed")
}
