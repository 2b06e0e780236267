package cluster

import "nsmeta/pkg/types"

// Member is a gossip peer. ID is empty for statically configured peers whose node id is not
// known up front.
type Member struct {
	ID   types.NodeID
	Addr string
}

// StaticMembers turns configured addresses into members.
func StaticMembers(addrs []string) []Member {
	out := make([]Member, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, Member{Addr: a})
	}
	return out
}
