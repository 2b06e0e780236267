package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"nsmeta/pkg/compression"
	"nsmeta/pkg/directory"
	"nsmeta/pkg/listener"
)

const ringReplicas = 64

// Peer exchanges gossip messages with one remote node.
type Peer interface {
	Exchange(ctx context.Context, payload []byte) ([]byte, error)
}

// фабрика удалённых клиентов
type PeerFactory func(addr string) Peer

type GossipConfig struct {
	Self     string // адрес этой ноды, в раунды не попадает
	Interval time.Duration
	Fanout   int
	Retries  int
	Backoff  time.Duration
	Codec    compression.Codec
}

// Gossiper runs push-pull exchanges: every round it sends the node's map and directory to a
// few peers and merges their replies.
type Gossiper struct {
	node    *Node
	cfg     GossipConfig
	newPeer PeerFactory

	ring    atomic.Pointer[HashRing]
	round   atomic.Uint64
	mu      sync.Mutex
	members map[string]Member
	peers   map[string]Peer

	loop   *listener.Listener[time.Time]
	ticker *time.Ticker
	cancel context.CancelFunc
}

func NewGossiper(node *Node, cfg GossipConfig, newPeer PeerFactory) *Gossiper {
	if cfg.Fanout < 1 {
		cfg.Fanout = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	g := &Gossiper{
		node:    node,
		cfg:     cfg,
		newPeer: newPeer,
		members: map[string]Member{},
		peers:   map[string]Peer{},
	}
	g.ring.Store(NewHashRing(ringReplicas))
	return g
}

// SetMembers replaces the peer set. Announcements of members that left are dropped.
func (g *Gossiper) SetMembers(members []Member) {
	next := make(map[string]Member, len(members))
	ring := NewHashRing(ringReplicas)
	for _, m := range members {
		if m.Addr == "" || m.Addr == g.cfg.Self || (m.ID != "" && m.ID == g.node.ID()) {
			continue
		}
		next[m.Addr] = m
		ring.AddNode(m.Addr)
	}

	g.mu.Lock()
	var gone []Member
	for addr, m := range g.members {
		if _, ok := next[addr]; !ok {
			gone = append(gone, m)
			delete(g.peers, addr)
		}
	}
	g.members = next
	g.ring.Store(ring)
	g.mu.Unlock()

	for _, m := range gone {
		if m.ID == "" {
			continue
		}
		dropped := g.node.Directory().DropOrigin(m.ID)
		slog.Info("peer left", "peer", m.ID, "addr", m.Addr, "announcements_dropped", dropped)
	}
	slog.Debug("gossip peers updated", "peers", ring.ListNodes())
}

// targets returns the peers of the next round. The ring key rotates every round so that
// successive rounds reach different peers.
func (g *Gossiper) targets() []string {
	r := g.round.Add(1)
	return g.ring.Load().Successors(fmt.Sprintf("%s#%d", g.cfg.Self, r), g.cfg.Fanout, g.cfg.Self)
}

func (g *Gossiper) peer(addr string) Peer {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.peers[addr]
	if !ok {
		p = g.newPeer(addr)
		g.peers[addr] = p
	}
	return p
}

// outgoing builds this node's message: the whole map and every known announcement.
func (g *Gossiper) outgoing() ([]byte, error) {
	var anns []directory.Announcement
	g.node.Directory().Range(func(a directory.Announcement) bool {
		anns = append(anns, a)
		return true
	})
	return encodeMessage(g.cfg.Codec, message{tables: g.node.Snapshot(), announcements: anns})
}

// absorb merges a received message into the node. Announcements are applied only after the
// map merged, so a rejected message leaves the directory untouched.
func (g *Gossiper) absorb(data []byte) error {
	msg, err := decodeMessage(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	if _, err := g.node.Merge(msg.tables); err != nil {
		return err
	}

	dir := g.node.Directory()
	for _, a := range msg.announcements {
		if a.Origin != g.node.ID() {
			dir.Observe(a)
			continue
		}
		// эхо своего объявления: догоняем последовательность, само эхо не храним
		if cur, restamped := dir.Reclaim(a); restamped {
			slog.Info("local announcement restamped past echo",
				"node", g.node.ID(), "table", a.Table, "echo_seq", a.Seq, "seq", cur.Seq)
		}
	}
	return nil
}

// Handle is the receiving side of an exchange: merge the peer's message and answer with the
// merged state.
func (g *Gossiper) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.absorb(payload); err != nil {
		return nil, err
	}
	return g.outgoing()
}

// Round exchanges state with up to Fanout peers concurrently.
func (g *Gossiper) Round(ctx context.Context) error {
	targets := g.targets()
	if len(targets) == 0 {
		return ErrNoPeers
	}
	payload, err := g.outgoing()
	if err != nil {
		return err
	}

	var (
		eg     errgroup.Group
		mu     sync.Mutex
		failed []error
	)
	eg.SetLimit(g.cfg.Fanout)
	for _, addr := range targets {
		eg.Go(func() error {
			if err := g.exchange(ctx, addr, payload); err != nil {
				mu.Lock()
				failed = append(failed, fmt.Errorf("peer %s: %w", addr, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	slog.Debug("gossip round finished",
		"peers", len(targets),
		"failed", len(failed),
		"size", humanize.Bytes(uint64(len(payload))),
	)
	return errors.Join(failed...)
}

func (g *Gossiper) exchange(ctx context.Context, addr string, payload []byte) error {
	p := g.peer(addr)

	var err error
	for attempt := 0; attempt <= g.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * g.cfg.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		var reply []byte
		reply, err = p.Exchange(ctx, payload)
		if err != nil {
			slog.Debug("gossip exchange failed", "peer", addr, "attempt", attempt, "error", err)
			continue
		}
		return g.absorb(reply)
	}
	return err
}

// Start runs a round every Interval until Stop or ctx cancellation.
func (g *Gossiper) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	g.ticker = time.NewTicker(g.cfg.Interval)
	g.loop = listener.New(g.ticker.C, func(time.Time) error {
		err := g.Round(ctx)
		if errors.Is(err, ErrNoPeers) {
			return nil
		}
		return err
	}, g.ticker.Stop)
	g.loop.OnError(func(err error) {
		slog.Warn("gossip round failed", "node", g.node.ID(), "error", err)
	})
	g.loop.Start(ctx)
}

func (g *Gossiper) Stop() {
	if g.loop == nil {
		return
	}
	g.cancel()
	g.loop.Stop()
}
