package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"livefeed/src/model"
)

const maxAuthFrames = 16

// StreamConn is an authenticated streaming session.
type StreamConn interface {
	// Subscribe returns per-instrument failures; the error is set only when
	// the transport itself failed.
	Subscribe(ctx context.Context, instruments []model.Instrument) (map[string]error, error)
	Unsubscribe(ctx context.Context, instruments []model.Instrument) error
	Read() ([]byte, error)
	Close() error
}

// StreamDialer opens sessions on the venue websocket.
type StreamDialer struct {
	log    *logrus.Entry
	cfg    Config
	proto  Protocol
	dialer websocket.Dialer
}

func NewStreamDialer(logger *logrus.Entry, cfg Config, proto Protocol) *StreamDialer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	return &StreamDialer{
		log:   logger,
		cfg:   cfg,
		proto: proto,
		dialer: websocket.Dialer{
			HandshakeTimeout:  cfg.HandshakeTimeout,
			EnableCompression: true,
			Proxy:             http.ProxyFromEnvironment,
		},
	}
}

func (d *StreamDialer) Protocol() ProtocolVersion {
	return d.proto.Version()
}

// Connect dials, sends the connect frame and waits for its acknowledgement.
func (d *StreamDialer) Connect(ctx context.Context) (StreamConn, error) {
	if !d.cfg.HasCredentials() {
		return nil, fmt.Errorf("%w: venue user or session id not configured", model.ErrAuthentication)
	}
	auth, err := d.proto.AuthFrame(d.cfg.UserID, d.cfg.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAuthentication, err)
	}

	conn, _, err := d.dialer.DialContext(ctx, d.cfg.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: ws dial failed: %v", model.ErrConnection, err)
	}

	if err := d.authenticate(conn, auth); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &wsConn{
		conn:        conn,
		proto:       d.proto,
		readTimeout: d.cfg.ReadTimeout,
		done:        make(chan struct{}),
	}
	conn.SetReadLimit(1 << 20)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})
	if d.cfg.PingPeriod > 0 {
		go c.keepAlive(d.log, d.cfg.PingPeriod)
	}
	return c, nil
}

func (d *StreamDialer) authenticate(conn *websocket.Conn, auth []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(d.cfg.AuthTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, auth); err != nil {
		return fmt.Errorf("%w: sending connect frame: %v", model.ErrConnection, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(d.cfg.AuthTimeout))
	for i := 0; i < maxAuthFrames; i++ {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: waiting for connect ack: %v", model.ErrConnection, err)
		}
		f, err := ParseFrame(msg)
		if err != nil {
			continue
		}
		isAck, accepted := f.IsAuthAck()
		if !isAck {
			continue
		}
		if !accepted {
			return fmt.Errorf("%w: venue refused session (k=%q)", model.ErrAuthentication, f.Key)
		}
		return nil
	}
	return fmt.Errorf("%w: no connect ack after %d frames", model.ErrConnection, maxAuthFrames)
}

type wsConn struct {
	conn        *websocket.Conn
	proto       Protocol
	readTimeout time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) Subscribe(ctx context.Context, instruments []model.Instrument) (map[string]error, error) {
	failed := make(map[string]error)
	keys := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		if inst.Exchange == "" || inst.Token == "" {
			failed[inst.Name] = fmt.Errorf("%w: %s has no exchange/token", model.ErrSubscription, inst.Name)
			continue
		}
		keys = append(keys, inst.Key())
	}
	frames, err := c.proto.SubscribeFrames(keys)
	if err != nil {
		return failed, fmt.Errorf("%w: %v", model.ErrSubscription, err)
	}
	return failed, c.writeFrames(ctx, frames)
}

func (c *wsConn) Unsubscribe(ctx context.Context, instruments []model.Instrument) error {
	keys := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		keys = append(keys, inst.Key())
	}
	frames, err := c.proto.UnsubscribeFrames(keys)
	if err != nil {
		return err
	}
	return c.writeFrames(ctx, frames)
}

func (c *wsConn) writeFrames(ctx context.Context, frames [][]byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, f); err != nil {
			return fmt.Errorf("%w: write failed: %v", model.ErrConnection, err)
		}
	}
	return nil
}

// Read blocks for the next frame. Any frame or pong extends the deadline.
func (c *wsConn) Read() ([]byte, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConnection, err)
	}
	return msg, nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) keepAlive(log *logrus.Entry, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.WithError(err).Debug("stream ping failed")
				}
				return
			}
		}
	}
}
