// Package client implements the coordinator-side library a caller uses to
// locate and talk to the shard owning a given key.
package client

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/req"
	_ "go.nanomsg.org/mangos/v3/transport/tcp"

	"github.com/dd0wney/shardkv/pkg/logging"
	"github.com/dd0wney/shardkv/pkg/metrics"
	"github.com/dd0wney/shardkv/pkg/ring"
	"github.com/dd0wney/shardkv/pkg/wire"
)

// DefaultConsistency is the replica count a request without an explicit
// consistency level is sent to: a single replica answers, no quorum fan-in.
const DefaultConsistency = 1

// defaultRequestTimeout bounds how long a single request waits for a reply
// before the req socket gives up, since mangos dial/send do not themselves
// fail on a refused or unreachable peer (they queue and retry).
const defaultRequestTimeout = 10 * time.Second

// Client resolves seed addresses into a consistent-hash ring and hands out
// Collection handles that fan requests out across it.
type Client struct {
	token   string
	logger  logging.Logger
	metrics *metrics.Registry

	seedAddrs []string
	ring      *ring.Ring

	mu    sync.Mutex
	conns map[string]mangos.Socket
}

// Option configures a Client constructed by FromSeedNodes.
type Option func(*Client)

// WithToken sets the bearer token attached to every non-metadata request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger overrides the client's logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics overrides the client's metrics registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(c *Client) { c.metrics = r }
}

// FromSeedNodes resolves cluster metadata from any of the given seed
// addresses and builds a consistent-hash ring from it.
func FromSeedNodes(ctx context.Context, seedAddrs []string, opts ...Option) (*Client, error) {
	if len(seedAddrs) == 0 {
		return nil, ErrNoAddresses
	}

	c := &Client{
		seedAddrs: seedAddrs,
		logger:    logging.NopLogger{},
		metrics:   metrics.DefaultRegistry(),
		conns:     make(map[string]mangos.Socket),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.Component("client"))

	resp, err := c.sendRequest(ctx, seedAddrs, wire.Request{Type: wire.TypeGetClusterMetadata})
	if err != nil {
		return nil, fmt.Errorf("client: resolve cluster metadata: %w", err)
	}

	nodes := make([]ring.Node, 0, len(resp.Nodes))
	for _, n := range resp.Nodes {
		nodes = append(nodes, ring.Node{IP: n.IP, Port: n.Port})
	}
	r, err := ring.New(ring.Metadata{Nodes: nodes, ReplicationFactor: resp.ReplicationFactor})
	if err != nil {
		return nil, fmt.Errorf("client: build ring: %w", err)
	}
	c.ring = r
	c.metrics.SetRingReplicaCount(r.ReplicationFactor())

	return c, nil
}

// Collection returns a handle to the named collection.
func (c *Client) Collection(name string) *Collection {
	return &Collection{client: c, name: name}
}

// CreateCollection asks the seed addresses to create a collection: lifecycle
// operations go to the seeds rather than through ring placement, since no
// ring placement applies until the collection exists. The seeds are tried
// in order and the call returns after the first one that succeeds; the
// remaining seeds are not contacted.
func (c *Client) CreateCollection(ctx context.Context, name string) error {
	_, err := c.sendRequest(ctx, c.seedAddrs, wire.Request{Type: wire.TypeCreateCollection, Name: name})
	return err
}

// DropCollection asks the seed addresses to drop a collection, trying them
// in order and returning after the first one that succeeds.
func (c *Client) DropCollection(ctx context.Context, name string) error {
	_, err := c.sendRequest(ctx, c.seedAddrs, wire.Request{Type: wire.TypeDropCollection, Name: name})
	return err
}

// Close closes every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for addr, sock := range c.conns {
		if err := sock.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("client: close connection to %s: %w", addr, err)
		}
	}
	c.conns = make(map[string]mangos.Socket)
	return firstErr
}

// shardKey joins a collection name and key into the single string the ring
// hashes a request's placement on: two collections sharing a key string
// must not collide onto the same shard position. \x00 separates the two
// since it cannot appear in a collection name.
func shardKey(collection string, key []byte) string {
	return collection + "\x00" + string(key)
}

// sendSharded hashes (collection, key) onto the ring and tries each owning
// replica in order via sendRequest.
func (c *Client) sendSharded(ctx context.Context, collection string, key []byte, req wire.Request) (wire.Response, error) {
	addrs, err := c.ring.Place(shardKey(collection, key))
	if err != nil {
		return wire.Response{}, fmt.Errorf("client: place key: %w", err)
	}
	c.metrics.RecordRingPlacement(req.Consistency)
	return c.sendRequest(ctx, addrs, req)
}

// sendRequest tries req against each address in order, returning the first
// success or an aggregated FanoutError. A request id is stamped on req
// once, before the first attempt, so every replica
// that sees this fan-out (and a FanoutError built from it) can be
// correlated back to the same logical call even though each attempt is a
// separate wire message.
func (c *Client) sendRequest(ctx context.Context, addrs []string, req wire.Request) (wire.Response, error) {
	if len(addrs) == 0 {
		return wire.Response{}, ErrNoAddresses
	}
	if req.Token == "" {
		req.Token = c.token
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	attempts := make(map[string]error)
	for _, addr := range addrs {
		resp, err := c.sendToAddr(ctx, addr, req)
		if err == nil {
			return resp, nil
		}
		attempts[addr] = err
		c.logger.Warn("client: fan-out attempt failed",
			logging.Any("address", addr), logging.String("request_id", req.RequestID), logging.Error(err))
	}

	c.metrics.RecordRingFanoutFailure()
	return wire.Response{}, &FanoutError{RequestID: req.RequestID, Attempts: attempts}
}

func (c *Client) sendToAddr(ctx context.Context, addr string, req wire.Request) (wire.Response, error) {
	if err := ctx.Err(); err != nil {
		return wire.Response{}, err
	}

	sock, err := c.dial(addr)
	if err != nil {
		return wire.Response{}, fmt.Errorf("client: connect to %s: %w", addr, err)
	}

	var buf bytes.Buffer
	if err := wire.WriteRequest(&buf, req); err != nil {
		return wire.Response{}, fmt.Errorf("client: encode request: %w", err)
	}
	if err := sock.Send(buf.Bytes()); err != nil {
		c.dropConn(addr)
		return wire.Response{}, fmt.Errorf("client: send to %s: %w", addr, err)
	}

	msg, err := sock.Recv()
	if err != nil {
		c.dropConn(addr)
		return wire.Response{}, fmt.Errorf("client: receive from %s: %w", addr, err)
	}

	resp, err := wire.ReadResponse(bytes.NewReader(msg))
	if err != nil {
		return wire.Response{}, fmt.Errorf("client: decode response from %s: %w", addr, err)
	}
	if !resp.OK {
		return wire.Response{}, fmt.Errorf("client: %s reported error: %s", addr, resp.Error)
	}
	return resp, nil
}

// dial returns a pooled req socket to addr, dialing one if none exists yet.
func (c *Client) dial(addr string) (mangos.Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sock, ok := c.conns[addr]; ok {
		return sock, nil
	}

	sock, err := req.NewSocket()
	if err != nil {
		return nil, err
	}
	if err := sock.SetOption(mangos.OptionSendDeadline, defaultRequestTimeout); err != nil {
		sock.Close()
		return nil, fmt.Errorf("set send deadline: %w", err)
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, defaultRequestTimeout); err != nil {
		sock.Close()
		return nil, fmt.Errorf("set recv deadline: %w", err)
	}
	if err := sock.Dial("tcp://" + addr); err != nil {
		sock.Close()
		return nil, err
	}
	c.conns[addr] = sock
	return sock, nil
}

// dropConn discards a pooled connection after a send/receive failure so the
// next attempt redials rather than reusing a socket in an unknown state.
func (c *Client) dropConn(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sock, ok := c.conns[addr]; ok {
		sock.Close()
		delete(c.conns, addr)
	}
}
