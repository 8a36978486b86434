package wire

import (
	"context"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zlepper/brqueue/internal/auth"
	"github.com/zlepper/brqueue/internal/broker"
	"github.com/zlepper/brqueue/internal/message"
	"github.com/zlepper/brqueue/internal/tagset"
)

// Server accepts TCP connections and serves the framed protocol against a
// Broker, gating every connection on an initial authenticate frame.
// Grounded on original_source/src/client.rs's Client/handle_connection,
// generalized from protobuf-over-TCP to msgpack-over-TCP and extended
// with the authenticate handshake spec.md §6 requires but the original
// source never wired up.
type Server struct {
	broker *broker.Broker
	auth   *auth.Store
	log    *logrus.Entry
}

// New returns a Server ready to Serve.
func New(b *broker.Broker, store *auth.Store, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{broker: b, auth: store, log: logger.WithField("component", "wire")}
}

// Serve accepts connections on l until ctx is cancelled or Accept fails.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go s.handleConnection(ctx, conn)
	}
}

// handleConnection implements the per-connection dispatch loop: the
// first frame must be authenticate (else the connection is closed after
// one reply), and every subsequent frame is one of enqueue/pop/acknowledge
// until the client disconnects, at which point every message still held
// in flight by this connection is requeued.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logEntry := s.log.WithField("remote", conn.RemoteAddr().String())

	if !s.authenticate(conn, logEntry) {
		return
	}

	session := s.broker.NewConnection()
	defer s.broker.DropConnection(session)

	for {
		req, err := ReadRequest(conn)
		if err != nil {
			if err != io.EOF {
				logEntry.WithError(err).Debug("connection closed")
			}
			return
		}

		resp := s.dispatch(connCtx, session, req, logEntry)
		if err := WriteResponse(conn, resp); err != nil {
			logEntry.WithError(err).Debug("failed to write response")
			return
		}
	}
}

// authenticate consumes the mandatory first frame. If that frame can be
// read it replies once, whatever the outcome; if it cannot, it sends no
// reply. It reports whether the connection may proceed.
func (s *Server) authenticate(conn net.Conn, logEntry *logrus.Entry) bool {
	req, err := ReadRequest(conn)
	if err != nil {
		return false
	}

	if req.Op != OpAuthenticate || req.Authenticate == nil {
		_ = WriteResponse(conn, Response{RefId: req.RefId, Error: "first request must be authenticate"})
		return false
	}

	ok, err := s.auth.Verify(req.Authenticate.Username, req.Authenticate.Password)
	if err != nil {
		logEntry.WithError(err).Error("authentication store error")
		_ = WriteResponse(conn, Response{RefId: req.RefId, Error: "authentication failed"})
		return false
	}
	if !ok {
		_ = WriteResponse(conn, Response{RefId: req.RefId, Error: "authentication failed"})
		return false
	}

	return WriteResponse(conn, Response{RefId: req.RefId}) == nil
}

func (s *Server) dispatch(ctx context.Context, session *broker.Connection, req Request, logEntry *logrus.Entry) Response {
	switch req.Op {
	case OpEnqueue:
		return s.handleEnqueue(req, logEntry)
	case OpPop:
		return s.handlePop(ctx, session, req, logEntry)
	case OpAcknowledge:
		return s.handleAcknowledge(session, req, logEntry)
	default:
		return Response{RefId: req.RefId, Error: "unknown operation"}
	}
}

func (s *Server) handleEnqueue(req Request, logEntry *logrus.Entry) Response {
	if req.Enqueue == nil {
		return Response{RefId: req.RefId, Error: "malformed enqueue request"}
	}

	required := tagset.New(req.Enqueue.RequiredCapabilities...)
	id, err := s.broker.Enqueue(req.Enqueue.Message, req.Enqueue.Priority, required)
	if err != nil {
		logEntry.WithError(err).Error("enqueue failed")
		return Response{RefId: req.RefId, Error: err.Error()}
	}

	return Response{RefId: req.RefId, Enqueue: &EnqueueResponse{Id: id.String()}}
}

func (s *Server) handlePop(ctx context.Context, session *broker.Connection, req Request, logEntry *logrus.Entry) Response {
	if req.Pop == nil {
		return Response{RefId: req.RefId, Error: "malformed pop request"}
	}

	caps := tagset.New(req.Pop.AvailableCapabilities...)

	var (
		msg message.Message
		ok  bool
	)
	if req.Pop.WaitForMessage {
		msg, ok = s.broker.Pop(ctx, session, caps)
	} else {
		msg, ok = s.broker.PopNoWait(session, caps)
	}

	if !ok {
		return Response{RefId: req.RefId, Pop: &PopResponse{HadResult: false}}
	}

	return Response{RefId: req.RefId, Pop: &PopResponse{
		HadResult: true,
		Id:        msg.Id.String(),
		Message:   msg.Payload,
		Priority:  msg.Priority,
	}}
}

func (s *Server) handleAcknowledge(session *broker.Connection, req Request, logEntry *logrus.Entry) Response {
	if req.Acknowledge == nil {
		return Response{RefId: req.RefId, Error: "malformed acknowledge request"}
	}

	id, err := uuid.Parse(req.Acknowledge.Id)
	if err != nil {
		return Response{RefId: req.RefId, Error: "invalid id"}
	}

	if err := s.broker.Acknowledge(session, id); err != nil {
		logEntry.WithError(err).Error("acknowledge failed")
		return Response{RefId: req.RefId, Error: err.Error()}
	}

	return Response{RefId: req.RefId, Acknowledge: &AcknowledgeResponse{}}
}
