package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	httpapi "nsmeta/internal/http"
	"nsmeta/pkg/cluster"
	"nsmeta/pkg/compression"
	"nsmeta/pkg/journal"
	"nsmeta/pkg/types"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "nsmeta: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(configPath)
	if err != nil {
		return err
	}
	initLogger(&cfg)

	datacenter, err := types.ParseID(cfg.Node.Datacenter)
	if err != nil {
		return fmt.Errorf("node datacenter: %w", err)
	}
	journalCodec, _ := compression.ParseCodec(cfg.Journal.Compression)
	gossipCodec, _ := compression.ParseCodec(cfg.Gossip.Compression)

	// --- журнал снапшотов ---
	j, err := journal.Open(cfg.Journal.Dir, journalCodec, cfg.Journal.KeepSnapshots)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if err := j.Close(); err != nil {
			slog.Error("failed to close journal", "error", err)
		}
	}()
	j.Start(ctx)
	defer j.Stop()

	// --- контекст ноды ---
	node := cluster.NewNode(cluster.NodeConfig{
		ID:             types.NodeID(cfg.Node.ID),
		Datacenter:     datacenter,
		VerifyJoinLaws: cfg.Checks.VerifyJoinLaws,
		Journal:        j,
	})
	if _, err := node.Restore(); err != nil {
		return fmt.Errorf("restore from journal: %w", err)
	}

	port := strconv.Itoa(cfg.Server.Port)
	self := cluster.Member{ID: node.ID(), Addr: advertiseAddr(port)}

	// --- gossip ---
	gossiper := cluster.NewGossiper(node, cluster.GossipConfig{
		Self:     self.Addr,
		Interval: cfg.Gossip.Interval,
		Fanout:   cfg.Gossip.Fanout,
		Retries:  cfg.Gossip.Retries,
		Codec:    gossipCodec,
	}, func(addr string) cluster.Peer {
		return cluster.NewHTTPClient(addr, cfg.Gossip.Timeout)
	})

	// --- membership: ZooKeeper, если настроен, иначе статический список ---
	if len(cfg.ZooKeeper.Servers) > 0 {
		membership, err := cluster.NewZKMembership(cfg.ZooKeeper.Servers, cfg.ZooKeeper.Root, self)
		if err != nil {
			return fmt.Errorf("connect to zookeeper: %w", err)
		}
		defer membership.Close()

		if err := membership.RegisterSelf(); err != nil {
			return fmt.Errorf("register in zookeeper: %w", err)
		}
		// watcher обновляет состав пиров при изменении нод в ZK
		membership.RunWatch(ctx, gossiper)
	} else {
		gossiper.SetMembers(cluster.StaticMembers(cfg.Gossip.Peers))
	}

	gossiper.Start(ctx)
	defer gossiper.Stop()

	// --- HTTP-сервер ---
	server := httpapi.NewServer(node, gossiper, port)
	server.ReadHeaderTimeout = cfg.Server.ReadHeaderTimeout
	if err := server.Start(); err != nil {
		return err
	}

	slog.Info("nsmeta node running", "addr", self.Addr, "tables", node.Snapshot().Len())
	<-ctx.Done()

	if err := server.Stop(); err != nil {
		slog.Error("error stopping server", "error", err)
	}
	slog.Info("nsmeta stopped")
	return nil
}

// advertiseAddr - адрес, под которым нода известна пирам
func advertiseAddr(port string) string {
	if addr := os.Getenv("NSMETA_ADVERTISE_ADDR"); addr != "" {
		return addr
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return host + ":" + port
}
