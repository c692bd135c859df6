package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// SyncTopic is the single well-known gossipsub topic every replica joins
// (spec §4.3). There is no per-ledger or per-peer topic: the sync document
// merge itself disambiguates unrelated histories.
const SyncTopic = "true-ledger-sync"

// NewClient creates and bootstraps a gossip-connected replica. The host
// identity is a fresh Ed25519 keypair (spec §4.3) generated per process;
// persisting and reusing an identity across restarts is left to the caller.
func NewClient(cfg Config) (*Client, error) {
	ctx, cancel := context.WithCancel(context.Background())

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("generate identity: %w", err)
	}

	h, err := libp2p.New(libp2p.Identity(priv), libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("create pubsub: %w", err)
	}

	c := &Client{
		host:   h,
		pubsub: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		peers:  make(map[NodeID]*peerLink),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}

	if err := c.DialSeed(cfg.BootstrapPeers); err != nil {
		logrus.Warnf("dial seed: %v", err)
	}

	if err := mdns.NewMdnsService(h, cfg.DiscoveryTag, c).Start(); err != nil {
		logrus.Warnf("start mdns discovery: %v", err)
	}

	return c, nil
}

// Ensure Client implements mdns.Notifee.
var _ mdns.Notifee = (*Client)(nil)

// HandlePeerFound implements mdns.Notifee: a peer appearing on the LAN
// transitions straight to Dialing, then Ready or Error (spec §4.3 state
// machine). Local network discovery entries expire after 30s per the
// underlying mdns service's own TTL; Client does not track that timer
// itself, it only reacts to Notify callbacks.
func (c *Client) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == c.host.ID() {
		return
	}
	id := NodeID(info.ID.String())

	c.peerLock.Lock()
	if _, exists := c.peers[id]; exists {
		c.peerLock.Unlock()
		return
	}
	link := newPeerLink(id, info.String())
	link.setState(LinkDiscovered)
	c.peers[id] = link
	c.peerLock.Unlock()

	link.setState(LinkDialing)
	if err := c.host.Connect(c.ctx, info); err != nil {
		link.setState(LinkError)
		logrus.Warnf("connect to discovered peer %s: %v", id, err)
		return
	}
	link.setState(LinkReady)
	logrus.Infof("connected to peer %s via mDNS", id)
}

// DialSeed connects to every bootstrap address, recording one peerLink per
// address regardless of success so failures remain visible via Peers().
func (c *Client) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		id := NodeID(pi.ID.String())
		link := newPeerLink(id, addr)
		link.setState(LinkDialing)

		c.peerLock.Lock()
		c.peers[id] = link
		c.peerLock.Unlock()

		if err := c.host.Connect(c.ctx, *pi); err != nil {
			link.setState(LinkError)
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		link.setState(LinkReady)
		logrus.Infof("bootstrapped to %s", addr)
	}
	if len(errs) > 0 {
		return fmt.Errorf("dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Broadcast publishes data on topic, joining it lazily on first use.
func (c *Client) Broadcast(topic string, data []byte) error {
	c.topicLock.Lock()
	t, ok := c.topics[topic]
	if !ok {
		var err error
		t, err = c.pubsub.Join(topic)
		if err != nil {
			c.topicLock.Unlock()
			return fmt.Errorf("join topic %s: %w", topic, err)
		}
		c.topics[topic] = t
	}
	c.topicLock.Unlock()
	if err := t.Publish(c.ctx, data); err != nil {
		return fmt.Errorf("publish topic %s: %w", topic, err)
	}
	return nil
}

// Subscribe listens for messages on topic, joining it lazily on first use.
// The returned channel is closed when the underlying subscription ends
// (typically on Close).
func (c *Client) Subscribe(topic string) (<-chan Message, error) {
	c.subLock.Lock()
	sub, ok := c.subs[topic]
	if !ok {
		t, err := c.pubsub.Join(topic)
		if err != nil {
			c.subLock.Unlock()
			return nil, fmt.Errorf("join topic %s: %w", topic, err)
		}
		c.topicLock.Lock()
		c.topics[topic] = t
		c.topicLock.Unlock()
		sub, err = t.Subscribe()
		if err != nil {
			c.subLock.Unlock()
			return nil, fmt.Errorf("subscribe topic %s: %w", topic, err)
		}
		c.subs[topic] = sub
	}
	c.subLock.Unlock()

	out := make(chan Message)
	go func() {
		for {
			msg, err := sub.Next(c.ctx)
			if err != nil {
				logrus.Warnf("subscription next error: %v", err)
				close(out)
				return
			}
			out <- Message{From: NodeID(msg.GetFrom().String()), Topic: topic, Data: msg.Data}
		}
	}()
	return out, nil
}

// Unsubscribe cancels topic's subscription, which unblocks the forwarding
// goroutine Subscribe started (its sub.Next call returns an error) and lets
// it close the channel it owns. A no-op if topic was never subscribed.
func (c *Client) Unsubscribe(topic string) {
	c.subLock.Lock()
	sub, ok := c.subs[topic]
	if ok {
		delete(c.subs, topic)
	}
	c.subLock.Unlock()
	if ok {
		sub.Cancel()
	}
}

// ListenAndServe blocks until the client's context is cancelled.
func (c *Client) ListenAndServe() {
	<-c.ctx.Done()
	logrus.Info("sync client shutting down")
}

// Close tears down the host and cancels all outstanding subscriptions.
func (c *Client) Close() error {
	c.cancel()
	return c.host.Close()
}

// Peers returns a copy-on-read snapshot of every known peer link.
func (c *Client) Peers() []*Peer {
	c.peerLock.RLock()
	defer c.peerLock.RUnlock()
	list := make([]*Peer, 0, len(c.peers))
	for _, link := range c.peers {
		list = append(list, &Peer{ID: link.id, Addr: link.addr})
	}
	return list
}
