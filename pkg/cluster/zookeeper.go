package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"nsmeta/pkg/types"
)

// MemberSink receives the full member list on every membership change. *Gossiper implements it.
type MemberSink interface {
	SetMembers(members []Member)
}

// ZKMembership держит ephemeral-узел ноды под <root>/nodes/<id> с адресом в данных
// и следит за составом кластера.
type ZKMembership struct {
	conn     *zk.Conn
	rootPath string
	local    Member
}

// servers: ["zk1:2181", "zk2:2181"]
func NewZKMembership(servers []string, rootPath string, local Member) (*ZKMembership, error) {
	if local.ID == "" {
		return nil, fmt.Errorf("zk membership needs a node id")
	}
	conn, _, err := zk.Connect(servers, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return &ZKMembership{
		conn:     conn,
		rootPath: strings.TrimRight(rootPath, "/"),
		local:    local,
	}, nil
}

func (m *ZKMembership) Close() error {
	m.conn.Close()
	return nil
}

func (m *ZKMembership) nodesPath() string {
	return m.rootPath + "/nodes"
}

func (m *ZKMembership) ensurePath(path string) error {
	parts := strings.Split(path, "/")
	cur := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := m.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = m.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && !errors.Is(err, zk.ErrNodeExists) {
				return err
			}
		}
	}
	return nil
}

// RegisterSelf создаёт ephemeral-узел для текущей ноды
func (m *ZKMembership) RegisterSelf() error {
	// Ждём, пока клиент реально подключится к ZK
	if err := m.waitConnected(10 * time.Second); err != nil {
		return err
	}

	if err := m.ensurePath(m.nodesPath()); err != nil {
		return fmt.Errorf("ensure nodes path: %w", err)
	}

	nodePath := fmt.Sprintf("%s/%s", m.nodesPath(), m.local.ID)
	_, err := m.conn.Create(nodePath, []byte(m.local.Addr), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("create ephemeral node: %w", err)
	}

	slog.Info("registered in zookeeper", "path", nodePath, "addr", m.local.Addr)
	return nil
}

// readMembers превращает детей /nodes в список участников; адрес лежит в данных узла
func (m *ZKMembership) readMembers(children []string) []Member {
	members := make([]Member, 0, len(children))
	for _, id := range children {
		data, _, err := m.conn.Get(m.nodesPath() + "/" + id)
		if err != nil {
			// узел мог исчезнуть между Children и Get
			if !errors.Is(err, zk.ErrNoNode) {
				slog.Warn("zk get member failed", "member", id, "error", err)
			}
			continue
		}
		members = append(members, Member{ID: types.NodeID(id), Addr: string(data)})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

// Members returns the live members, this node included.
func (m *ZKMembership) Members() ([]Member, error) {
	children, _, err := m.conn.Children(m.nodesPath())
	if err != nil {
		return nil, fmt.Errorf("zk children: %w", err)
	}
	return m.readMembers(children), nil
}

// RunWatch запускает цикл: следит за изменениями /nodes и отдаёт новый состав в sink
func (m *ZKMembership) RunWatch(ctx context.Context, sink MemberSink) {
	go func() {
		for {
			// первый раз читаем и подписываемся
			children, _, ch, err := m.conn.ChildrenW(m.nodesPath())
			if err != nil {
				slog.Warn("zk ChildrenW failed", "error", err)
				select {
				case <-time.After(2 * time.Second):
					continue
				case <-ctx.Done():
					return
				}
			}

			sink.SetMembers(m.readMembers(children))

			select {
			case ev := <-ch:
				slog.Debug("zk membership event", "type", ev.Type, "path", ev.Path)
				// просто продолжаем цикл и перечитываем список нод
			case <-ctx.Done():
				slog.Info("zk watch stopped")
				return
			}
		}
	}()
}

func (m *ZKMembership) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := m.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
