package client

import (
	"context"
	"fmt"

	"github.com/dd0wney/shardkv/pkg/wire"
)

// Collection is a named handle bound to one collection, exposing the
// key-value operations a caller sends over a Client.
type Collection struct {
	client *Client
	name   string
}

// Get fetches key at the default consistency level.
func (c *Collection) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	return c.GetConsistent(ctx, key, DefaultConsistency)
}

// GetConsistent fetches key, fanning the request out to consistency
// replicas via the ring.
func (c *Collection) GetConsistent(ctx context.Context, key []byte, consistency int) ([]byte, bool, error) {
	resp, err := c.client.sendSharded(ctx, c.name, key, wire.Request{
		Type:        wire.TypeGet,
		Collection:  c.name,
		Key:         key,
		Consistency: consistency,
	})
	if err != nil {
		return nil, false, fmt.Errorf("client: get %q: %w", key, err)
	}
	return resp.Value, resp.Found, nil
}

// Set writes key=value at the default consistency level.
func (c *Collection) Set(ctx context.Context, key, value []byte) error {
	return c.SetConsistent(ctx, key, value, DefaultConsistency)
}

// SetConsistent writes key=value, fanning the request out to consistency
// replicas via the ring.
func (c *Collection) SetConsistent(ctx context.Context, key, value []byte, consistency int) error {
	_, err := c.client.sendSharded(ctx, c.name, key, wire.Request{
		Type:        wire.TypeSet,
		Collection:  c.name,
		Key:         key,
		Value:       value,
		Consistency: consistency,
	})
	if err != nil {
		return fmt.Errorf("client: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *Collection) Delete(ctx context.Context, key []byte) error {
	_, err := c.client.sendSharded(ctx, c.name, key, wire.Request{
		Type:       wire.TypeDelete,
		Collection: c.name,
		Key:        key,
	})
	if err != nil {
		return fmt.Errorf("client: delete %q: %w", key, err)
	}
	return nil
}

// Drop deletes the collection itself.
func (c *Collection) Drop(ctx context.Context) error {
	return c.client.DropCollection(ctx, c.name)
}
