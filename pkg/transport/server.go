package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/logging"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Server serves contract implementations to transport clients. Calls for the
// same ticket are handled one at a time.
type Server struct {
	log      logging.Logger
	upgrader websocket.Upgrader
	methods  map[string]map[string]method
	locks    *keyedMutex
	starts   *startCache
}

type ServerOption func(*Server)

// WithStartCacheTTL sets how long a StartScript reply is replayed for
// repeated starts of the same ticket.
func WithStartCacheTTL(ttl time.Duration) ServerOption {
	return func(s *Server) { s.starts = newStartCache(ttl) }
}

// NewServer serves every non-nil service in services.
func NewServer(log logging.Logger, services contracts.Services, opts ...ServerOption) *Server {
	s := &Server{
		log:     log,
		methods: map[string]map[string]method{},
		locks:   newKeyedMutex(),
		starts:  newStartCache(defaultStartCacheTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	if svc := services.ScriptV1; svc != nil {
		s.methods[contracts.ScriptServiceV1Name] = map[string]method{
			"StartScript":    unary(svc.StartScript, nil),
			"GetStatus":      unary(svc.GetStatus, func(r contracts.ScriptStatusRequest) contracts.ScriptTicket { return r.Ticket }),
			"CancelScript":   unary(svc.CancelScript, func(r contracts.CancelScriptCommand) contracts.ScriptTicket { return r.Ticket }),
			"CompleteScript": unary(svc.CompleteScript, func(r contracts.CompleteScriptCommand) contracts.ScriptTicket { return r.Ticket }),
		}
	}
	if svc := services.ScriptV2; svc != nil {
		s.methods[contracts.ScriptServiceV2Name] = map[string]method{
			"StartScript":    idempotentStart(unary(svc.StartScript, func(r contracts.StartScriptCommandV2) contracts.ScriptTicket { return r.ScriptTicket })),
			"GetStatus":      unary(svc.GetStatus, func(r contracts.ScriptStatusRequestV2) contracts.ScriptTicket { return r.Ticket }),
			"CancelScript":   unary(svc.CancelScript, func(r contracts.CancelScriptCommandV2) contracts.ScriptTicket { return r.Ticket }),
			"CompleteScript": completion(noResult(svc.CompleteScript, func(r contracts.CompleteScriptCommandV2) contracts.ScriptTicket { return r.Ticket })),
		}
	}
	if svc := services.KubernetesV1; svc != nil {
		s.methods[contracts.KubernetesScriptServiceV1Name] = map[string]method{
			"StartScript":    idempotentStart(unary(svc.StartScript, func(r contracts.StartKubernetesScriptCommandV1) contracts.ScriptTicket { return r.ScriptTicket })),
			"GetStatus":      unary(svc.GetStatus, func(r contracts.KubernetesScriptStatusRequestV1) contracts.ScriptTicket { return r.ScriptTicket }),
			"CancelScript":   unary(svc.CancelScript, func(r contracts.CancelKubernetesScriptCommandV1) contracts.ScriptTicket { return r.ScriptTicket }),
			"CompleteScript": completion(noResult(svc.CompleteScript, func(r contracts.CompleteKubernetesScriptCommandV1) contracts.ScriptTicket { return r.ScriptTicket })),
		}
	}
	if svc := services.Capabilities; svc != nil {
		s.methods[contracts.CapabilitiesServiceV2Name] = map[string]method{
			"GetCapabilities": {invoke: func(ctx context.Context, _ json.RawMessage) (contracts.ScriptTicket, invocation, error) {
				return "", func(ctx context.Context) (interface{}, error) { return svc.GetCapabilities(ctx) }, nil
			}},
		}
	}
	return s
}

// invocation runs a decoded call.
type invocation func(ctx context.Context) (interface{}, error)

type method struct {
	// invoke decodes params, returning the ticket the call is for, if any.
	invoke func(ctx context.Context, params json.RawMessage) (contracts.ScriptTicket, invocation, error)
	// start replays earlier replies for the same ticket.
	start bool
	// complete ends the ticket's replay window.
	complete bool
}

func unary[Req, Res any](fn func(context.Context, Req) (Res, error), ticket func(Req) contracts.ScriptTicket) method {
	return method{invoke: func(ctx context.Context, params json.RawMessage) (contracts.ScriptTicket, invocation, error) {
		var req Req
		if len(params) > 0 {
			if err := json.Unmarshal(params, &req); err != nil {
				return "", nil, err
			}
		}
		var t contracts.ScriptTicket
		if ticket != nil {
			t = ticket(req)
		}
		return t, func(ctx context.Context) (interface{}, error) { return fn(ctx, req) }, nil
	}}
}

func noResult[Req any](fn func(context.Context, Req) error, ticket func(Req) contracts.ScriptTicket) method {
	return unary(func(ctx context.Context, req Req) (interface{}, error) {
		return nil, fn(ctx, req)
	}, ticket)
}

func idempotentStart(m method) method {
	m.start = true
	return m
}

func completion(m method) method {
	m.complete = true
	return m
}

// ServeHTTP upgrades the request and serves calls until the client goes
// away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer ws.Close()
	ws.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	var (
		writeMu  sync.Mutex
		inflight sync.WaitGroup
	)
	reply := func(res *Response) {
		frame, err := json.Marshal(res)
		if err != nil {
			s.log.WithError(err).Error("unable to encode response")
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.log.WithError(err).Debug("unable to write response")
		}
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).Debug("connection closed")
			}
			break
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.log.WithError(err).Warn("discarding malformed request")
			continue
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			reply(s.handle(ctx, &req))
		}()
	}
	cancel()
	inflight.Wait()
}

func (s *Server) handle(ctx context.Context, req *Request) *Response {
	res := &Response{ID: req.ID}
	log := s.log.WithField("rpc", req.Service+"."+req.Method)

	methods, ok := s.methods[req.Service]
	if !ok {
		res.Error = &ErrorBody{Code: CodeServiceNotFound, Message: "service " + req.Service + " is not served"}
		return res
	}
	m, ok := methods[req.Method]
	if !ok {
		res.Error = &ErrorBody{Code: CodeMethodNotFound, Message: "method " + req.Method + " is not served"}
		return res
	}
	ticket, invoke, err := m.invoke(ctx, req.Params)
	if err != nil {
		res.Error = &ErrorBody{Code: CodeInvalidParams, Message: err.Error()}
		return res
	}

	key := req.Service + "/" + ticket.String()
	if ticket != "" {
		unlock := s.locks.Lock(key)
		defer unlock()
	}
	if m.start {
		if last := s.starts.Last(key); last != nil {
			log.WithField("ticket", ticket).Debug("replaying start")
			res.Result = last
			return res
		}
	}

	result, err := invoke(ctx)
	if err != nil {
		log.WithError(err).Debug("call failed")
		res.Error = errorBody(err)
		return res
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			res.Error = &ErrorBody{Code: CodeInternal, Message: errors.Wrap(err, "encode result").Error()}
			return res
		}
		res.Result = raw
	}
	switch {
	case m.start:
		s.starts.Record(key, res.Result)
	case m.complete:
		s.starts.Forget(key)
	}
	return res
}

func errorBody(err error) *ErrorBody {
	var remote *contracts.RemoteError
	switch {
	case errors.As(err, &remote):
		return &ErrorBody{Code: remote.Code, Message: remote.Message}
	case errors.Is(err, contracts.ErrServiceNotFound):
		return &ErrorBody{Code: CodeServiceNotFound, Message: err.Error()}
	default:
		return &ErrorBody{Code: CodeInternal, Message: err.Error()}
	}
}
