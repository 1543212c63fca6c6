// oreon/appshell · watchthelight <wtl>

package instance

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/oreonproject/appshell/pkg/events"
	"github.com/oreonproject/appshell/pkg/ipc"
)

// Handler carries out control-socket commands. It is implemented by the
// application state; every method is called from a connection goroutine,
// never from the lifecycle loop.
type Handler interface {
	Status(ctx context.Context) ipc.StatusResponse
	SecondInstance(args ipc.SecondInstanceArgs)
	ShowMain()
	Quit()
	CloseSplashscreen()
	// CloseWindow routes a close request for the named window through the
	// lifecycle policy and returns the decision.
	CloseWindow(label string) (string, error)
	CheckForUpdates(ctx context.Context) (ipc.CheckResponse, error)
	DownloadUpdate(ctx context.Context, sessionID string, progress func(ipc.ProgressEvent)) (*ipc.SessionInfo, error)
	CancelDownload() bool
	InstallUpdate(ctx context.Context, sessionID string) (*ipc.SessionInfo, error)
	ClearUpdateCache(ctx context.Context) error
	// ErrorCode maps a handler error onto an ipc.Code* value.
	ErrorCode(err error) string
}

// Server handles control-socket connections from the presentation layer,
// `appshell ctl` and later launches of the shell.
type Server struct {
	socketPath  string
	listener    net.Listener
	handler     Handler
	emitter     *events.Emitter
	ctx         context.Context
	cancel      context.CancelFunc
	conns       map[net.Conn]struct{}
	subscribers map[net.Conn]*subscriber
	subMu       sync.Mutex // guards conns and subscribers
	wg          sync.WaitGroup
}

// NewServer creates a server that will serve ln, which Guard.Acquire bound
// to socketPath.
func NewServer(socketPath string, ln net.Listener, handler Handler, emitter *events.Emitter) *Server {
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:  socketPath,
		listener:    ln,
		handler:     handler,
		emitter:     emitter,
		ctx:         ctx,
		cancel:      cancel,
		conns:       make(map[net.Conn]struct{}),
		subscribers: make(map[net.Conn]*subscriber),
	}
}

// Serve accepts connections until Close is called, then returns nil. It
// returns an error if the listener fails for any other reason.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil // shutdown
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			slog.Warn("accept error", "error", err)
			continue
		}
		s.subMu.Lock()
		if s.ctx.Err() != nil {
			s.subMu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.subMu.Unlock()
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Close stops accepting, drops every connection and removes the socket. A
// request still running sees its context cancelled; Close waits for it.
func (s *Server) Close() error {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.subMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	for _, sub := range s.subscribers {
		sub.stop()
	}
	s.subMu.Unlock()
	s.wg.Wait()
	os.Remove(s.socketPath)
	return nil
}

const (
	subscriberQueue = 256
	// eventWriteTimeout bounds one event write to a subscriber.
	eventWriteTimeout = 5 * time.Second
)

var errSubscriberGone = errors.New("subscriber dropped")

// subscriber owns the outgoing side of a subscribed connection. Events and
// the connection's own responses share one queue, so they reach the client in
// the order they were produced.
type subscriber struct {
	conn  net.Conn
	queue chan *ipc.Response
	done  chan struct{}
	once  sync.Once
}

func (sub *subscriber) stop() {
	sub.once.Do(func() { close(sub.done) })
}

// enqueue waits for room in the queue. Only the connection's own goroutine
// uses it.
func (sub *subscriber) enqueue(resp *ipc.Response) error {
	select {
	case sub.queue <- resp:
		return nil
	case <-sub.done:
		return errSubscriberGone
	}
}

// subscribe registers conn for push events. ack is the first thing written.
func (s *Server) subscribe(conn net.Conn, ack *ipc.Response) *subscriber {
	sub := &subscriber{
		conn:  conn,
		queue: make(chan *ipc.Response, subscriberQueue),
		done:  make(chan struct{}),
	}
	sub.queue <- ack

	s.subMu.Lock()
	s.subscribers[conn] = sub
	s.wg.Add(1)
	s.subMu.Unlock()

	go func() {
		defer s.wg.Done()
		s.writeEvents(sub)
	}()
	slog.Debug("client subscribed")
	return sub
}

func (s *Server) writeEvents(sub *subscriber) {
	for {
		select {
		case resp := <-sub.queue:
			sub.conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := json.NewEncoder(sub.conn).Encode(resp); err != nil {
				slog.Debug("failed to send event to subscriber", "error", err)
				s.drop(sub)
				return
			}
		case <-sub.done:
			return
		}
	}
}

// drop unsubscribes sub and closes its connection. A half-written line would
// leave the stream unreadable, so the client has to reconnect.
func (s *Server) drop(sub *subscriber) {
	s.subMu.Lock()
	if s.subscribers[sub.conn] == sub {
		delete(s.subscribers, sub.conn)
	}
	s.subMu.Unlock()
	sub.stop()
	sub.conn.Close()
}

func (s *Server) forget(conn net.Conn) {
	s.subMu.Lock()
	delete(s.conns, conn)
	delete(s.subscribers, conn)
	s.subMu.Unlock()
}

// Publish queues an event for every subscriber and never blocks. Events from
// one goroutine reach each subscriber in the order they were published. A
// subscriber whose queue is full is dropped.
func (s *Server) Publish(name string, data interface{}) {
	resp := makeResponse(name, data)

	s.subMu.Lock()
	subscribers := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subscribers = append(subscribers, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subscribers {
		select {
		case sub.queue <- resp:
		case <-sub.done:
		default:
			slog.Warn("subscriber not reading, dropping it", "event", name)
			s.drop(sub)
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer s.forget(conn) // clean up subscription on disconnect

	reader := bufio.NewReader(conn)
	var sub *subscriber
	defer func() {
		if sub != nil {
			sub.stop()
		}
	}()
	send := func(resp *ipc.Response) error {
		if sub != nil {
			return sub.enqueue(resp)
		}
		return json.NewEncoder(conn).Encode(resp)
	}

	for {
		// Read one line (one JSON request)
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return // client disconnected
		}

		var req ipc.Request
		if err := json.Unmarshal(line, &req); err != nil {
			if err := send(&ipc.Response{
				Success: false,
				Error:   "invalid JSON",
			}); err != nil {
				slog.Warn("failed to encode error response", "error", err)
				return
			}
			continue
		}

		// Handle subscribe specially - it registers this connection for push events
		// The ack is queued ahead of any event.
		if req.Command == ipc.CmdSubscribe {
			if sub == nil {
				sub = s.subscribe(conn, makeResponse(req.ID, "subscribed"))
			} else if err := send(makeResponse(req.ID, "subscribed")); err != nil {
				return
			}
			continue
		}

		resp := s.handleRequest(&req)
		if err := send(resp); err != nil {
			slog.Warn("failed to encode response", "error", err)
			return
		}
	}
}

// makeResponse creates a response with properly marshaled data.
func makeResponse(id string, data interface{}) *ipc.Response {
	resp := &ipc.Response{ID: id, Success: true}
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return &ipc.Response{ID: id, Success: false, Error: "marshal error: " + err.Error(), Code: ipc.CodeInternal}
		}
		resp.Data = jsonData
	}
	return resp
}

func (s *Server) errorResponse(id string, err error) *ipc.Response {
	return &ipc.Response{
		ID:      id,
		Success: false,
		Error:   err.Error(),
		Code:    s.handler.ErrorCode(err),
	}
}

func decodeArgs(req *ipc.Request, v interface{}) error {
	if len(req.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Args, v); err != nil {
		return fmt.Errorf("invalid args for %s: %w", req.Command, err)
	}
	return nil
}

func (s *Server) handleRequest(req *ipc.Request) *ipc.Response {
	evt := events.StartIPCRequest(req.Command, req.ID).ClientVersion(req.Version)
	var resp *ipc.Response
	defer func() {
		if resp != nil && !resp.Success {
			evt.SetError(fmt.Errorf("%s", resp.Error))
		}
		if resp != nil {
			evt.ResponseSize(len(resp.Data))
		}
		s.emitter.Emit(evt.End())
	}()

	// Check protocol version (0 means old client that didn't send version)
	if req.Version != 0 && req.Version != ipc.ProtocolVersion {
		resp = &ipc.Response{
			ID:      req.ID,
			Success: false,
			Error:   fmt.Sprintf("protocol version mismatch: client=%d, server=%d", req.Version, ipc.ProtocolVersion),
		}
		return resp
	}

	ctx := s.ctx

	switch req.Command {
	case ipc.CmdPing:
		resp = makeResponse(req.ID, "pong")

	case ipc.CmdStatus:
		resp = makeResponse(req.ID, s.handler.Status(ctx))

	case ipc.CmdSecondInstance:
		var args ipc.SecondInstanceArgs
		if err := decodeArgs(req, &args); err != nil {
			resp = &ipc.Response{ID: req.ID, Error: err.Error()}
			break
		}
		s.handler.SecondInstance(args)
		resp = makeResponse(req.ID, "acknowledged")

	case ipc.CmdShow:
		s.handler.ShowMain()
		resp = makeResponse(req.ID, "shown")

	case ipc.CmdQuit:
		s.handler.Quit()
		resp = makeResponse(req.ID, "quitting")

	case ipc.CmdCloseSplash:
		s.handler.CloseSplashscreen()
		resp = makeResponse(req.ID, nil)

	case ipc.CmdCloseWindow:
		var args ipc.WindowArgs
		if err := decodeArgs(req, &args); err != nil {
			resp = &ipc.Response{ID: req.ID, Error: err.Error()}
			break
		}
		decision, err := s.handler.CloseWindow(args.Window)
		if err != nil {
			resp = s.errorResponse(req.ID, err)
			break
		}
		resp = makeResponse(req.ID, ipc.CloseResponse{Decision: decision})

	case ipc.CmdUpdateCheck:
		result, err := s.handler.CheckForUpdates(ctx)
		if err != nil {
			resp = s.errorResponse(req.ID, err)
			break
		}
		resp = makeResponse(req.ID, result)

	case ipc.CmdUpdateDownload:
		var args ipc.SessionArgs
		if err := decodeArgs(req, &args); err != nil {
			resp = &ipc.Response{ID: req.ID, Error: err.Error()}
			break
		}
		resp = s.download(ctx, req.ID, args.SessionID)

	case ipc.CmdUpdateCancel:
		resp = makeResponse(req.ID, map[string]bool{"cancelled": s.handler.CancelDownload()})

	case ipc.CmdUpdateInstall:
		var args ipc.SessionArgs
		if err := decodeArgs(req, &args); err != nil {
			resp = &ipc.Response{ID: req.ID, Error: err.Error()}
			break
		}
		info, err := s.handler.InstallUpdate(ctx, args.SessionID)
		if err != nil {
			resp = s.errorResponse(req.ID, err)
			break
		}
		resp = makeResponse(req.ID, info)

	case ipc.CmdUpdateClearCache:
		if err := s.handler.ClearUpdateCache(ctx); err != nil {
			resp = s.errorResponse(req.ID, err)
			break
		}
		resp = makeResponse(req.ID, "cleared")

	default:
		resp = &ipc.Response{
			ID:      req.ID,
			Success: false,
			Error:   "unknown command: " + req.Command,
		}
	}

	return resp
}

// download runs the transfer on this connection's goroutine, publishing
// progress to subscribers and a final done event after the last progress.
func (s *Server) download(ctx context.Context, id, sessionID string) *ipc.Response {
	var started string
	info, err := s.handler.DownloadUpdate(ctx, sessionID, func(p ipc.ProgressEvent) {
		started = p.SessionID
		s.Publish(ipc.EventUpdateProgress, p)
	})

	if started != "" {
		done := ipc.DoneEvent{SessionID: started, Success: err == nil}
		if err != nil {
			done.Error = err.Error()
			done.Code = s.handler.ErrorCode(err)
		}
		s.Publish(ipc.EventUpdateDone, done)
	}

	if err != nil {
		return s.errorResponse(id, err)
	}
	return makeResponse(id, info)
}
