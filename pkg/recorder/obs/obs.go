// Package obs implements [recorder.Recorder] against the obs-websocket v5
// protocol.
//
// Each Start/Stop call opens a short-lived WebSocket connection, performs the
// Hello/Identify handshake (including challenge/salt authentication when a
// password is configured), issues the request batch for the action, and
// disconnects. Start creates a dedicated microphone input in the recording
// scene and begins recording; Stop ends the recording and removes the input
// again, so the scene carries the mic only while a call is being captured.
package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/callwatch/pkg/recorder"
)

// Compile-time assertion that Client satisfies the recorder interface.
var _ recorder.Recorder = (*Client)(nil)

// obs-websocket v5 opcodes used by the client.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opRequest         = 6
	opRequestResponse = 7
)

// rpcVersion is the obs-websocket RPC version this client speaks.
const rpcVersion = 1

// subprotocol is the WebSocket subprotocol required by obs-websocket for
// JSON framing.
const subprotocol = "obswebsocket.json"

// defaultCallTimeout bounds one whole Start or Stop action, handshake
// included.
const defaultCallTimeout = 30 * time.Second

// Config holds connection and scene settings for the OBS recorder.
type Config struct {
	// URL is the obs-websocket endpoint, e.g. "ws://localhost:4455".
	URL string

	// Password is the obs-websocket authentication password. Empty disables
	// the authentication step.
	Password string

	// Scene is the OBS scene that receives the temporary mic input.
	Scene string

	// Input is the name of the mic input created for the duration of a
	// recording.
	Input string

	// DeviceID selects the capture device for the mic input. "default" uses
	// the system default microphone.
	DeviceID string

	// CallTimeout bounds one whole Start or Stop action. Default: 30s.
	CallTimeout time.Duration
}

// Client is an obs-websocket v5 recording controller.
type Client struct {
	cfg Config
}

// New creates a [Client]. Zero config fields take defaults.
func New(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = "ws://localhost:4455"
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "default"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Client{cfg: cfg}
}

// envelope is the outer obs-websocket message frame.
type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

// helloData is the payload of the server's initial Hello message.
type helloData struct {
	ObsWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

// identifyData is the payload of the client's Identify message.
type identifyData struct {
	RPCVersion     int    `json:"rpcVersion"`
	Authentication string `json:"authentication,omitempty"`
}

// requestData is the payload of a client request.
type requestData struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

// responseData is the payload of a request response.
type responseData struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
}

// Start connects to OBS, creates the mic input in the recording scene, and
// begins recording.
func (c *Client) Start(ctx context.Context) error {
	return c.withSession(ctx, "start", func(ctx context.Context, conn *websocket.Conn) error {
		err := c.call(ctx, conn, "CreateInput", map[string]any{
			"sceneName":        c.cfg.Scene,
			"inputName":        c.cfg.Input,
			"inputKind":        "wasapi_input_capture",
			"inputSettings":    map[string]any{"device_id": c.cfg.DeviceID},
			"sceneItemEnabled": true,
		})
		if err != nil {
			return fmt.Errorf("create input %q: %w", c.cfg.Input, err)
		}
		if err := c.call(ctx, conn, "StartRecord", nil); err != nil {
			return fmt.Errorf("start record: %w", err)
		}
		slog.Info("obs recording started", "scene", c.cfg.Scene, "input", c.cfg.Input)
		return nil
	})
}

// Stop connects to OBS, ends the recording, and removes the mic input.
func (c *Client) Stop(ctx context.Context) error {
	return c.withSession(ctx, "stop", func(ctx context.Context, conn *websocket.Conn) error {
		if err := c.call(ctx, conn, "StopRecord", nil); err != nil {
			return fmt.Errorf("stop record: %w", err)
		}
		err := c.call(ctx, conn, "RemoveInput", map[string]any{
			"inputName": c.cfg.Input,
		})
		if err != nil {
			return fmt.Errorf("remove input %q: %w", c.cfg.Input, err)
		}
		slog.Info("obs recording stopped", "input", c.cfg.Input)
		return nil
	})
}

// withSession opens a connection, identifies, runs fn, and always closes the
// connection. The whole action shares one CallTimeout-bounded context.
func (c *Client) withSession(ctx context.Context, action string, fn func(context.Context, *websocket.Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		return fmt.Errorf("obs %s: dial %s: %w", action, c.cfg.URL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := c.identify(ctx, conn); err != nil {
		return fmt.Errorf("obs %s: identify: %w", action, err)
	}
	if err := fn(ctx, conn); err != nil {
		return fmt.Errorf("obs %s: %w", action, err)
	}
	return nil
}

// identify performs the Hello → Identify → Identified handshake.
func (c *Client) identify(ctx context.Context, conn *websocket.Conn) error {
	env, err := readEnvelope(ctx, conn)
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if env.Op != opHello {
		return fmt.Errorf("expected hello (op %d), got op %d", opHello, env.Op)
	}
	var hello helloData
	if err := json.Unmarshal(env.D, &hello); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	ident := identifyData{RPCVersion: rpcVersion}
	if hello.Authentication != nil {
		if c.cfg.Password == "" {
			return fmt.Errorf("obs requires authentication but no password is configured")
		}
		ident.Authentication = authToken(c.cfg.Password,
			hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	if err := writeEnvelope(ctx, conn, opIdentify, ident); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}

	env, err = readEnvelope(ctx, conn)
	if err != nil {
		return fmt.Errorf("read identified: %w", err)
	}
	if env.Op != opIdentified {
		return fmt.Errorf("expected identified (op %d), got op %d", opIdentified, env.Op)
	}
	return nil
}

// call issues one request and waits for its matching response. Event frames
// arriving in between are skipped.
func (c *Client) call(ctx context.Context, conn *websocket.Conn, requestType string, data any) error {
	id := uuid.NewString()
	req := requestData{
		RequestType: requestType,
		RequestID:   id,
		RequestData: data,
	}
	if err := writeEnvelope(ctx, conn, opRequest, req); err != nil {
		return fmt.Errorf("send %s: %w", requestType, err)
	}

	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			return fmt.Errorf("read %s response: %w", requestType, err)
		}
		if env.Op != opRequestResponse {
			continue
		}
		var resp responseData
		if err := json.Unmarshal(env.D, &resp); err != nil {
			return fmt.Errorf("decode %s response: %w", requestType, err)
		}
		if resp.RequestID != id {
			continue
		}
		if !resp.RequestStatus.Result {
			return fmt.Errorf("%s rejected (code %d): %s",
				requestType, resp.RequestStatus.Code, resp.RequestStatus.Comment)
		}
		return nil
	}
}

// authToken computes the obs-websocket authentication string:
// base64(sha256(base64(sha256(password + salt)) + challenge)).
func authToken(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (envelope, error) {
	var env envelope
	_, data, err := conn.Read(ctx)
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, err
	}
	return env, nil
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, op int, d any) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(envelope{Op: op, D: payload})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}
