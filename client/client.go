// Package client is a convenience client for a dyschord cloud: it keeps a
// small pool of known peers, replenishes it via the finger tables of
// peers it already knows, and retries against a random peer on transport
// failure. Grounded on original_source/dyschord/client.py's Client /
// NodeProxy (the cloud pool, _find_connections, _node_method).
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	chord "github.com/afoglia/dyschord"
	"github.com/afoglia/dyschord/internal/logger"
)

// Client talks to a cloud of dyschord nodes without hosting any node of
// its own.
type Client struct {
	cloud      map[string]chord.NodeRef // keyed by URL
	translator *chord.Translator
	transport  chord.ClientTransport

	minConnections int
	logger         logger.Logger
}

// New dials every address in peers, keeping whichever respond, then tops
// the pool up to minConnections via GetFingers. Returns ErrNoPeers if no
// peer in the list is reachable.
func New(ctx context.Context, peers []string, minConnections int, timeout time.Duration, lg logger.Logger) (*Client, error) {
	if lg == nil {
		lg = logger.NopLogger{}
	}
	c := &Client{
		cloud:          make(map[string]chord.NodeRef),
		transport:      chord.NewTCPDialer(timeout, lg),
		minConnections: minConnections,
		logger:         lg.Named("client"),
	}
	c.translator = chord.NewTranslator(func(d chord.Descriptor) chord.NodeRef {
		return chord.NewRemoteNode(d, c.transport, c.translator)
	})

	for _, url := range peers {
		peer := chord.NewRemoteNode(chord.Descriptor{URL: url}, c.transport, c.translator)
		if ok, err := peer.Ping(ctx); err != nil || !ok {
			continue
		}
		c.cloud[url] = peer
	}
	if len(c.cloud) == 0 {
		return nil, chord.ErrNoPeers
	}
	if len(c.cloud) < c.minConnections {
		c.findConnections(ctx)
	}
	return c, nil
}

// findConnections walks outward from known peers via GetFingers until the
// pool reaches minConnections or there is nothing left to ask.
func (c *Client) findConnections(ctx context.Context) {
	known := make([]chord.NodeRef, 0, len(c.cloud))
	for _, p := range c.cloud {
		known = append(known, p)
	}
	for len(c.cloud) < c.minConnections && len(known) > 0 {
		peer := known[0]
		known = known[1:]

		fingers, err := peer.GetFingers(ctx)
		if err != nil {
			delete(c.cloud, peer.URL())
			continue
		}
		for _, finger := range fingers {
			if _, ok := c.cloud[finger.URL()]; !ok {
				c.cloud[finger.URL()] = finger
				known = append(known, finger)
			}
		}
	}
	if len(c.cloud) == 0 {
		return
	}
	if len(c.cloud) < c.minConnections {
		c.logger.Warn("only aware of a few peers", logger.F("count", len(c.cloud)))
	}
}

// withPeer tries fn against peers in random order, dropping any peer that
// fails with a transport error, until one succeeds or the pool is empty.
func (c *Client) withPeer(fn func(chord.NodeRef) error) error {
	for len(c.cloud) > 0 {
		urls := make([]string, 0, len(c.cloud))
		for url := range c.cloud {
			urls = append(urls, url)
		}
		rand.Shuffle(len(urls), func(i, j int) { urls[i], urls[j] = urls[j], urls[i] })

		for _, url := range urls {
			peer := c.cloud[url]
			err := fn(peer)
			if err == nil {
				return nil
			}
			if errors.Is(err, chord.ErrTransport) {
				delete(c.cloud, url)
				continue
			}
			return err
		}
	}
	return chord.ErrNoPeers
}

// Lookup fetches the JSON-decoded value stored for key.
func (c *Client) Lookup(ctx context.Context, key string) (any, error) {
	c.findConnections(ctx)

	var raw []byte
	err := c.withPeer(func(peer chord.NodeRef) error {
		v, err := peer.Lookup(ctx, key)
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("dyschord client: malformed value for key %q: %w", key, err)
	}
	return value, nil
}

// Store JSON-encodes value and stores it for key.
func (c *Client) Store(ctx context.Context, key string, value any) error {
	c.findConnections(ctx)

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("dyschord client: value for key %q is not JSON-encodable: %w", key, err)
	}
	return c.withPeer(func(peer chord.NodeRef) error {
		return peer.Store(ctx, key, encoded)
	})
}
