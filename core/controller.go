package core

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// mutation is a local ledger change submitted to the controller's
// single-writer loop. Documents received from peers arrive as inbound.
type mutation struct {
	apply func(*Ledger, *SyncDoc) error
	errCh chan error
}

// inbound is a sync document received from a peer, queued for merge.
type inbound struct {
	data []byte
}

// Controller serializes every local mutation and every inbound merge
// through one goroutine (spec §5): the Ledger and SyncDoc it owns are never
// touched from any other goroutine, so neither needs its own lock beyond
// what Ledger already provides for copy-on-read accessors.
type Controller struct {
	// ledgerMu guards only the ledger field's pointer value, so Snapshot can
	// read it from any goroutine while run swaps it in on merge. Every
	// mutation of the ledger's own contents still happens exclusively
	// inside run, via the mutations/inbound channels.
	ledgerMu sync.RWMutex
	ledger   *Ledger
	doc      *SyncDoc

	transport *Client
	peers     PeerManager

	mutations chan mutation
	inbound   chan inbound

	ctx    context.Context
	cancel context.CancelFunc
}

// mutationQueueSize bounds the local submission queue (spec §5): a burst of
// local writes must backpressure rather than grow without bound.
const mutationQueueSize = 256

// NewController wires a fresh Ledger and SyncDoc to transport and starts
// the controller's event loop. Callers obtain a *Client via NewClient.
func NewController(transport *Client) (*Controller, error) {
	doc, err := New()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	var peers PeerManager
	if transport != nil {
		peers = NewPeerManagement(transport)
	}
	c := &Controller{
		ledger:    NewLedger(),
		doc:       doc,
		transport: transport,
		peers:     peers,
		mutations: make(chan mutation, mutationQueueSize),
		inbound:   make(chan inbound, mutationQueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	go c.run()
	return c, nil
}

// run is the sole goroutine that ever touches c.ledger or c.doc directly.
func (c *Controller) run() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case m := <-c.mutations:
			ledger := c.currentLedger()
			err := m.apply(ledger, c.doc)
			if err == nil {
				if perr := c.doc.ProjectFrom(ledger); perr != nil {
					err = perr
				} else if c.transport != nil {
					if berr := c.transport.Broadcast(SyncTopic, c.doc.Save()); berr != nil {
						logrus.Warnf("broadcast sync document: %v", berr)
					}
				}
			}
			if m.errCh != nil {
				m.errCh <- err
			}
		case in := <-c.inbound:
			if err := c.mergeLocked(in.data); err != nil {
				logrus.Warnf("merge inbound sync document: %v", err)
			}
		}
	}
}

// mergeLocked loads, merges, and re-projects an inbound document. It is
// only ever called from run, hence the name.
func (c *Controller) mergeLocked(data []byte) error {
	peerDoc, err := Load(data)
	if err != nil {
		return err
	}
	// Validate the incoming document decodes cleanly on its own before
	// merging it into c.doc (spec §8, scenario S6) - merging first and
	// validating after would leave c.doc holding unreadable content for any
	// caller that inspects it before the next successful local mutation
	// overwrites the accounts region.
	if _, err := peerDoc.ProjectTo(); err != nil {
		return err
	}
	if err := c.doc.Merge(peerDoc); err != nil {
		return err
	}
	merged, err := c.doc.ProjectTo()
	if err != nil {
		return err
	}
	// A merged document's balances map is hint-only (spec §4.2); rebuild
	// from the union of transactions before trusting it.
	merged.RebuildBalances()
	c.ledgerMu.Lock()
	c.ledger = merged
	c.ledgerMu.Unlock()
	return nil
}

// currentLedger returns the ledger pointer run should operate on for this
// iteration. Only run calls this; it exists to keep the ledgerMu critical
// section tiny even though run is otherwise the sole mutator.
func (c *Controller) currentLedger() *Ledger {
	c.ledgerMu.RLock()
	defer c.ledgerMu.RUnlock()
	return c.ledger
}

// submit enqueues fn to run inside the controller loop and waits for it to
// complete, returning whatever error fn produced.
func (c *Controller) submit(fn func(*Ledger, *SyncDoc) error) error {
	errCh := make(chan error, 1)
	select {
	case c.mutations <- mutation{apply: fn, errCh: errCh}:
	case <-c.ctx.Done():
		return context.Canceled
	}
	select {
	case err := <-errCh:
		return err
	case <-c.ctx.Done():
		return context.Canceled
	}
}

// AddAccount records a new account through the controller's single-writer
// loop, then broadcasts the updated sync document to peers.
func (c *Controller) AddAccount(a Account) error {
	return c.submit(func(l *Ledger, _ *SyncDoc) error {
		return l.AddAccount(a)
	})
}

// RecordTransaction records tx through the controller's single-writer loop,
// then broadcasts the updated sync document to peers.
func (c *Controller) RecordTransaction(tx Transaction) error {
	return c.submit(func(l *Ledger, _ *SyncDoc) error {
		return l.RecordTransaction(tx)
	})
}

// Receive queues an inbound sync document (typically a gossip delivery fed
// in by ListenGossip) for merge. It never blocks the caller on the merge
// itself.
func (c *Controller) Receive(data []byte) {
	select {
	case c.inbound <- inbound{data: data}:
	case <-c.ctx.Done():
	}
}

// ListenGossip subscribes to the sync topic via the peer manager and feeds
// every delivery into Receive until the subscription's channel closes. It
// returns immediately; the subscription runs in its own goroutine.
func (c *Controller) ListenGossip() error {
	if c.peers == nil {
		return nil
	}
	msgs := c.peers.Subscribe(SyncTopic)
	go func() {
		for msg := range msgs {
			c.Receive(msg.Payload)
		}
	}()
	return nil
}

// Peers returns the current state of every peer link known to the
// transport (spec §4.3), for diagnostics - e.g. a CLI status subcommand.
func (c *Controller) Peers() []PeerInfo {
	if c.peers == nil {
		return nil
	}
	return c.peers.Peers()
}

// Snapshot returns a copy-on-read view of the ledger's current state,
// safe to call from any goroutine (spec §5).
func (c *Controller) Snapshot() *Ledger {
	ledger := c.currentLedger()
	l := NewLedger()
	l.replaceAll(ledger.Accounts(), ledger.Transactions())
	return l
}

// Close stops the controller's event loop.
func (c *Controller) Close() {
	c.cancel()
}
