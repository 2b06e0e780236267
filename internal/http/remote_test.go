package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nsmeta/pkg/cluster"
	"nsmeta/pkg/compression"
	"nsmeta/pkg/types"
)

type gossipNode struct {
	node   *cluster.Node
	gossip *cluster.Gossiper
	srv    *httptest.Server
}

func startGossipNode(t *testing.T, id types.NodeID) *gossipNode {
	t.Helper()
	node := cluster.NewNode(cluster.NodeConfig{ID: id, Datacenter: testDC, VerifyJoinLaws: true})
	g := cluster.NewGossiper(node, cluster.GossipConfig{
		Self:     string(id),
		Interval: time.Hour,
		Fanout:   2,
		Codec:    compression.Zstd,
	}, func(addr string) cluster.Peer {
		return cluster.NewHTTPClient(addr, time.Second)
	})
	srv := httptest.NewServer(NewServer(node, g, "").Handler())
	t.Cleanup(srv.Close)
	return &gossipNode{node: node, gossip: g, srv: srv}
}

func (n *gossipNode) member() cluster.Member {
	return cluster.Member{ID: n.node.ID(), Addr: strings.TrimPrefix(n.srv.URL, "http://")}
}

func TestGossipOverHTTP(t *testing.T) {
	a := startGossipNode(t, "n1")
	b := startGossipNode(t, "n2")
	c := startGossipNode(t, "n3")
	members := []cluster.Member{a.member(), b.member(), c.member()}
	for _, n := range []*gossipNode{a, b, c} {
		n.gossip.SetMembers(members)
	}

	// создаём таблицы через HTTP API каждой ноды
	for i, n := range []*gossipNode{a, b, c} {
		createTable(t, n.srv.Config.Handler, []string{"users", "orders", "events"}[i])
	}
	id := a.node.Snapshot().Live()[0].ID
	a.node.Announce(id, []byte("primary"))

	// n1 видит n2 и n3, после одного раунда у n1 всё; второй раунд любой другой ноды разносит остальное
	if err := a.gossip.Round(t.Context()); err != nil {
		t.Fatalf("round n1: %v", err)
	}
	if err := b.gossip.Round(t.Context()); err != nil {
		t.Fatalf("round n2: %v", err)
	}
	if err := c.gossip.Round(t.Context()); err != nil {
		t.Fatalf("round n3: %v", err)
	}

	for _, n := range []*gossipNode{b, c} {
		if !n.node.Snapshot().Equal(a.node.Snapshot()) {
			t.Fatalf("%s diverged", n.node.ID())
		}
		if _, ok := n.node.Directory().Lookup("n1", id); !ok {
			t.Fatalf("%s did not receive the announcement", n.node.ID())
		}
	}
	if len(a.node.Snapshot().Live()) != 3 {
		t.Fatalf("expected 3 live tables, got %d", len(a.node.Snapshot().Live()))
	}
}

func TestGossipEndpointRejectsGarbage(t *testing.T) {
	n := startGossipNode(t, "n1")

	resp, err := http.Post(n.srv.URL+"/api/internal/gossip", contentTypeBinary, bytes.NewReader([]byte{0x42, 0x00}))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if n.node.Snapshot().Len() != 0 {
		t.Fatalf("garbage changed the map")
	}
}
