package core

import (
	"context"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	host "github.com/libp2p/go-libp2p/core/host"
)

// NodeID is a libp2p peer id rendered as a string, used everywhere a peer
// needs to be named without pulling the peer package into every file.
type NodeID string

// Peer is what the transport layer knows about a remote replica.
type Peer struct {
	ID      NodeID
	Addr    string
	Latency time.Duration
}

// Message is a decoded pub/sub delivery: an opaque sync-document payload
// plus the sender that published it.
type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

// Config configures a Client's libp2p host, bootstrap peers and mDNS
// discovery tag (spec §4.3). The gossip topic is always SyncTopic.
type Config struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}

// Client is a single gossip-connected replica: a libp2p host joined to the
// sync topic, tracking the peers it has seen via mDNS or explicit dial.
type Client struct {
	host      host.Host
	pubsub    *pubsub.PubSub
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription
	topicLock sync.RWMutex
	subLock   sync.RWMutex
	peerLock  sync.RWMutex
	peers     map[NodeID]*peerLink
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       Config
}

// PeerInfo is the copy-on-read view of a peer's link state exposed to
// callers outside the transport package.
type PeerInfo struct {
	ID      NodeID
	State   LinkState
	RTT     float64
	Updated int64
}

// InboundMsg is a decoded pub/sub delivery, tagged with its originating
// peer and topic.
type InboundMsg struct {
	PeerID  string
	Payload []byte
	Topic   string
	Ts      int64
}

// PeerManager is the interface the sync controller depends on, satisfied
// by peerManagement (spec §4.3 / §4.4).
type PeerManager interface {
	Peers() []PeerInfo
	Connect(addr string) error
	Disconnect(id NodeID) error
	Sample(n int) []string
	Subscribe(topic string) <-chan InboundMsg
	Unsubscribe(topic string)
}
