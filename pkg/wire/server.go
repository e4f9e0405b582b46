package wire

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	_ "go.nanomsg.org/mangos/v3/transport/tcp"

	"github.com/dd0wney/shardkv/pkg/engine"
	"github.com/dd0wney/shardkv/pkg/logging"
	"github.com/dd0wney/shardkv/pkg/metrics"
)

// Engine is the collection-keyed storage surface a Server dispatches
// requests to. cmd/shardd's collection manager implements it over a map of
// per-collection engine.Tree instances.
type Engine interface {
	Get(ctx context.Context, collection string, key []byte) ([]byte, bool, error)
	Set(ctx context.Context, collection string, key, value []byte) error
	Delete(ctx context.Context, collection string, key []byte) error
	CreateCollection(ctx context.Context, name string) error
	DropCollection(ctx context.Context, name string) error
	ClusterMetadata() (nodes []NodeInfo, replicationFactor int)
}

// Server binds a mangos REP socket over tcp:// and dispatches one decoded
// Request per received message to an Engine. Each message carries exactly
// one ReadRequest/WriteResponse frame (uint16_le length, then the
// YAML-encoded envelope) as its payload, even though mangos additionally
// frames the message at the transport level. Recv/dispatch/Send is
// strictly sequential per connection, matching a single-threaded-per-shard
// request handling model.
type Server struct {
	addr    string
	engine  Engine
	secret  []byte
	logger  logging.Logger
	metrics *metrics.Registry

	sock mangos.Socket
}

// NewServer constructs a Server. secret authenticates every request other
// than get_cluster_metadata.
func NewServer(addr string, eng Engine, secret []byte, logger logging.Logger, reg *metrics.Registry) *Server {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	logger = logger.With(logging.Component("wire"))
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}
	return &Server{addr: addr, engine: eng, secret: secret, logger: logger, metrics: reg}
}

// ListenAndServe binds the server's mangos REP socket and processes
// requests until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	sock, err := rep.NewSocket()
	if err != nil {
		return fmt.Errorf("wire: new rep socket: %w", err)
	}
	if err := sock.Listen("tcp://" + s.addr); err != nil {
		sock.Close()
		return fmt.Errorf("wire: listen on %s: %w", s.addr, err)
	}
	s.sock = sock

	go func() {
		<-ctx.Done()
		sock.Close()
	}()

	s.logger.Info("wire: listening", logging.Path(s.addr))

	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, mangos.ErrClosed) {
				return nil
			}
			s.logger.Warn("wire: recv failed", logging.Error(err))
			continue
		}

		out := s.handleMessage(ctx, msg)
		if err := sock.Send(out); err != nil {
			s.logger.Warn("wire: send failed", logging.Error(err))
		}
	}
}

// Addr returns the server's bound listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Metrics returns the server's metrics registry, for mounting a /metrics
// endpoint or wiring the inspector TUI.
func (s *Server) Metrics() *metrics.Registry {
	return s.metrics
}

// handleMessage decodes one request frame, dispatches it, and returns the
// response re-encoded as a frame ready to hand back to mangos.
func (s *Server) handleMessage(ctx context.Context, msg []byte) []byte {
	req, err := ReadRequest(bytes.NewReader(msg))
	if err != nil {
		s.logger.Warn("wire: decode request failed", logging.Error(err))
		return mustFrameResponse(ErrorResponse(err))
	}

	resp := s.dispatch(ctx, req)
	return mustFrameResponse(resp)
}

// mustFrameResponse encodes resp as a frame. Response encoding failures are
// a programmer error (Response has no types yaml cannot marshal), so on the
// rare failure this falls back to a minimal inline frame rather than
// propagating, since there is no further layer above the socket send to
// report to.
func mustFrameResponse(resp Response) []byte {
	var buf bytes.Buffer
	if err := WriteResponse(&buf, resp); err != nil {
		var fallback bytes.Buffer
		_ = WriteFrame(&fallback, []byte(`{ok: false, error: "wire: failed to encode response"}`))
		return fallback.Bytes()
	}
	return buf.Bytes()
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	log := s.logger
	if req.RequestID != "" {
		log = log.With(logging.String("request_id", req.RequestID))
	}

	if req.Type != TypeGetClusterMetadata {
		if err := ValidateToken(s.secret, req.Token); err != nil {
			log.Warn("wire: rejected unauthorized request", logging.Any("type", string(req.Type)))
			return ErrorResponse(err)
		}
	}

	switch req.Type {
	case TypeGetClusterMetadata:
		nodes, rf := s.engine.ClusterMetadata()
		return Response{OK: true, Nodes: nodes, ReplicationFactor: rf}

	case TypeCreateCollection:
		if err := s.engine.CreateCollection(ctx, req.Name); err != nil {
			return ErrorResponse(err)
		}
		return Response{OK: true}

	case TypeDropCollection:
		if err := s.engine.DropCollection(ctx, req.Name); err != nil {
			return ErrorResponse(err)
		}
		return Response{OK: true}

	case TypeGet:
		v, found, err := s.engine.Get(ctx, req.Collection, req.Key)
		if err != nil && !errors.Is(err, engine.ErrNotFound) {
			return ErrorResponse(err)
		}
		return Response{OK: true, Found: found, Value: v}

	case TypeSet:
		if err := s.engine.Set(ctx, req.Collection, req.Key, req.Value); err != nil {
			return ErrorResponse(err)
		}
		return Response{OK: true}

	case TypeDelete:
		if err := s.engine.Delete(ctx, req.Collection, req.Key); err != nil {
			return ErrorResponse(err)
		}
		return Response{OK: true}

	default:
		return ErrorResponse(fmt.Errorf("%w: %q", ErrUnknownType, req.Type))
	}
}
