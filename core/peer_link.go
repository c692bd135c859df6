package core

import (
	crand "crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

// LinkState is a peer connection's position in the state machine named by
// spec §4.3: Discovered -> Dialing -> Authenticating -> Ready, with Error
// and Closed reachable from any non-terminal state.
type LinkState int

const (
	LinkDiscovered LinkState = iota
	LinkDialing
	LinkAuthenticating
	LinkReady
	LinkError
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkDiscovered:
		return "discovered"
	case LinkDialing:
		return "dialing"
	case LinkAuthenticating:
		return "authenticating"
	case LinkReady:
		return "ready"
	case LinkError:
		return "error"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// peerLink tracks one remote peer's connection lifecycle so PeerManager.Peers
// can report it without querying the host each time. libp2p's secure channel
// handshake (noise) performs the actual authentication inside host.Connect,
// together with the dial; no code path sets LinkAuthenticating, so a link
// goes from Dialing straight to Ready or Error.
type peerLink struct {
	mu      sync.RWMutex
	id      NodeID
	addr    string
	state   LinkState
	rtt     time.Duration
	updated time.Time
}

func newPeerLink(id NodeID, addr string) *peerLink {
	return &peerLink{id: id, addr: addr, state: LinkDiscovered, updated: time.Now()}
}

func (l *peerLink) setState(s LinkState) {
	l.mu.Lock()
	l.state = s
	l.updated = time.Now()
	l.mu.Unlock()
}

func (l *peerLink) snapshot() PeerInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return PeerInfo{ID: l.id, State: l.state, RTT: float64(l.rtt.Milliseconds()), Updated: l.updated.Unix()}
}

// peerManagement implements PeerManager over a Client's gossip host: peer
// connect/disconnect/sampling plus the inbound gossip subscription feed.
type peerManagement struct {
	client *Client
	mu     sync.RWMutex
	out    map[string]chan InboundMsg
}

// NewPeerManagement wraps client to expose the PeerManager surface the sync
// controller depends on.
func NewPeerManagement(client *Client) *peerManagement {
	return &peerManagement{
		client: client,
		out:    make(map[string]chan InboundMsg),
	}
}

// Peers returns copy-on-read info for every peer link the client knows
// about, in the state machine position described by spec §4.3.
func (pm *peerManagement) Peers() []PeerInfo {
	pm.client.peerLock.RLock()
	defer pm.client.peerLock.RUnlock()
	out := make([]PeerInfo, 0, len(pm.client.peers))
	for _, link := range pm.client.peers {
		out = append(out, link.snapshot())
	}
	return out
}

// Connect dials addr and transitions its link Discovered -> Dialing ->
// Ready (or Error on failure).
func (pm *peerManagement) Connect(addr string) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	id := NodeID(pi.ID.String())
	link := newPeerLink(id, addr)
	link.setState(LinkDialing)

	pm.client.peerLock.Lock()
	pm.client.peers[id] = link
	pm.client.peerLock.Unlock()

	if err := pm.client.host.Connect(pm.client.ctx, *pi); err != nil {
		link.setState(LinkError)
		return err
	}
	link.setState(LinkReady)
	return nil
}

// Disconnect closes the libp2p connection to id and drops its link.
func (pm *peerManagement) Disconnect(id NodeID) error {
	pid, err := peer.Decode(string(id))
	if err != nil {
		return err
	}
	if err := pm.client.host.Network().ClosePeer(pid); err != nil {
		return err
	}
	pm.client.peerLock.Lock()
	if link, ok := pm.client.peers[id]; ok {
		link.setState(LinkClosed)
	}
	delete(pm.client.peers, id)
	pm.client.peerLock.Unlock()
	return nil
}

// Sample returns up to n peer ids currently in the Ready state, chosen
// uniformly at random.
func (pm *peerManagement) Sample(n int) []string {
	ready := make([]string, 0)
	pm.client.peerLock.RLock()
	for id, link := range pm.client.peers {
		if link.snapshot().State == LinkReady {
			ready = append(ready, string(id))
		}
	}
	pm.client.peerLock.RUnlock()

	if n > len(ready) {
		n = len(ready)
	}
	for i := len(ready) - 1; i > 0; i-- {
		jBig, err := crand.Int(crand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			break
		}
		j := int(jBig.Int64())
		ready[i], ready[j] = ready[j], ready[i]
	}
	return ready[:n]
}

// Subscribe joins topic via the client's gossip pubsub and returns a
// channel of decoded deliveries.
func (pm *peerManagement) Subscribe(topic string) <-chan InboundMsg {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if ch, ok := pm.out[topic]; ok {
		return ch
	}
	msgs, err := pm.client.Subscribe(topic)
	if err != nil {
		logrus.Warnf("subscribe %s failed: %v", topic, err)
		ch := make(chan InboundMsg)
		close(ch)
		return ch
	}
	out := make(chan InboundMsg)
	pm.out[topic] = out
	go func() {
		for m := range msgs {
			out <- InboundMsg{PeerID: string(m.From), Payload: m.Data, Topic: topic, Ts: time.Now().UnixMilli()}
		}
		close(out)
	}()
	return out
}

// Unsubscribe cancels topic's underlying client subscription and drops our
// forwarding channel. Cancelling makes the client close msgs, which ends
// Subscribe's forwarding goroutine once it is not blocked delivering to its
// consumer; the goroutines wind down asynchronously, after Unsubscribe has
// returned.
func (pm *peerManagement) Unsubscribe(topic string) {
	pm.mu.Lock()
	_, ok := pm.out[topic]
	delete(pm.out, topic)
	pm.mu.Unlock()
	if ok {
		pm.client.Unsubscribe(topic)
	}
}

// Ensure peerManagement implements PeerManager.
var _ PeerManager = (*peerManagement)(nil)
