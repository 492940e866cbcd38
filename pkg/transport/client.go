package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/rpc"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeWait = 10 * time.Second
	readLimit = 16 << 20
)

var errClientClosed = errors.New("transport client closed")

// Client sends calls to an agent over a single websocket, dialled on first
// use and redialled after it drops. Calls may be made concurrently.
type Client struct {
	log    logging.Logger
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *conn
	closed bool
}

type ClientOption func(*Client)

// WithHeader adds headers to the websocket handshake.
func WithHeader(h http.Header) ClientOption {
	return func(c *Client) { c.header = h }
}

func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

func NewClient(log logging.Logger, url string, opts ...ClientOption) *Client {
	c := &Client{
		log:    log,
		url:    url,
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// conn is one websocket and the calls waiting on it.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *Response
	done    chan struct{}
	err     error
}

// Call invokes service.method with params and decodes the reply into result,
// which may be nil. Errors are classified for the retry policy: failures
// before the request was written are rpc.ConnectionErrors, failures after it
// are rpc.TransferErrors. Errors reported by the agent are returned as
// *contracts.RemoteError, or contracts.ErrServiceNotFound.
func (c *Client) Call(ctx context.Context, service, method string, params, result interface{}) error {
	if err := ctx.Err(); err != nil {
		return &rpc.ConnectionError{Err: err}
	}
	req := Request{ID: uuid.NewString(), Service: service, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return errors.Wrapf(err, "encode %s.%s params", service, method)
		}
		req.Params = raw
	}
	frame, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}

	cn, err := c.connect(ctx)
	if err != nil {
		return &rpc.ConnectionError{Err: err}
	}
	reply := cn.register(req.ID)
	defer cn.unregister(req.ID)

	if logging.Debuggable {
		c.log.WithField("frame", string(frame)).Debug("send")
	}
	if err := cn.write(ctx, frame); err != nil {
		c.drop(cn, err)
		return &rpc.ConnectionError{Err: err}
	}

	select {
	case res := <-reply:
		return decode(service, method, res, result)
	case <-cn.done:
		return &rpc.TransferError{Err: cn.err}
	case <-ctx.Done():
		return &rpc.TransferError{Err: ctx.Err()}
	}
}

func decode(service, method string, res *Response, result interface{}) error {
	if res.Error != nil {
		if res.Error.Code == CodeServiceNotFound {
			return errors.WithMessage(contracts.ErrServiceNotFound, service)
		}
		return &contracts.RemoteError{Service: service, Method: method, Code: res.Error.Code, Message: res.Error.Message}
	}
	if result == nil || len(res.Result) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(res.Result, result), "decode %s.%s result", service, method)
}

func (c *Client) connect(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClientClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, errors.Wrapf(err, "dial %s: %s", c.url, resp.Status)
		}
		return nil, errors.Wrapf(err, "dial %s", c.url)
	}
	ws.SetReadLimit(readLimit)
	cn := &conn{
		ws:      ws,
		pending: map[string]chan *Response{},
		done:    make(chan struct{}),
	}
	c.conn = cn
	go c.readLoop(cn)
	c.log.WithField("url", c.url).Debug("connected")
	return cn, nil
}

func (c *Client) readLoop(cn *conn) {
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			c.drop(cn, err)
			return
		}
		if logging.Debuggable {
			c.log.WithField("frame", string(data)).Debug("recv")
		}
		var res Response
		if err := json.Unmarshal(data, &res); err != nil {
			c.log.WithError(err).Warn("discarding malformed response")
			continue
		}
		cn.deliver(&res)
	}
}

// drop closes cn and fails its pending calls. Later calls redial.
func (c *Client) drop(cn *conn, err error) {
	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
	}
	c.mu.Unlock()
	cn.close(err)
}

// Close closes the connection, failing calls in flight.
func (c *Client) Close() error {
	c.mu.Lock()
	cn := c.conn
	c.conn, c.closed = nil, true
	c.mu.Unlock()
	if cn != nil {
		cn.close(errClientClosed)
	}
	return nil
}

func (cn *conn) register(id string) <-chan *Response {
	ch := make(chan *Response, 1)
	cn.mu.Lock()
	cn.pending[id] = ch
	cn.mu.Unlock()
	return ch
}

func (cn *conn) unregister(id string) {
	cn.mu.Lock()
	delete(cn.pending, id)
	cn.mu.Unlock()
}

func (cn *conn) deliver(res *Response) {
	cn.mu.Lock()
	ch, ok := cn.pending[res.ID]
	cn.mu.Unlock()
	if ok {
		ch <- res
	}
}

func (cn *conn) write(ctx context.Context, frame []byte) error {
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	cn.ws.SetWriteDeadline(deadline)
	return cn.ws.WriteMessage(websocket.TextMessage, frame)
}

func (cn *conn) close(err error) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	select {
	case <-cn.done:
		return
	default:
	}
	cn.err = err
	close(cn.done)
	cn.ws.Close()
}
