package app

import (
	"sort"
	"strconv"

	"gosupervisor/internal/rpc"
)

// Peer is one supervised process as reported by the list verb.
type Peer struct {
	PID int
	// Verified is false when the daemon could not read credentials.
	Verified bool
	UID      int
	GID      int
	User     string
	Label    string
	ID       string
}

func peersFromList(data any) []Peer {
	obj, _ := rpc.Object(data)
	peers := make([]Peer, 0, len(obj))
	for key, item := range obj {
		pid, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		p := Peer{PID: pid}
		if fields, ok := rpc.Object(item); ok {
			p.Verified = true
			p.UID = rpc.Int(fields["uid"])
			p.GID = rpc.Int(fields["gid"])
			p.User, _ = fields["user"].(string)
			p.Label, _ = fields["label"].(string)
			p.ID, _ = fields["id"].(string)
		}
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].PID < peers[j].PID })
	return peers
}

// Notification is one peer event received while watching.
type Notification struct {
	Event string
	PID   int
}

// Attached reports whether the notification announces a new peer.
func (n Notification) Attached() bool {
	return n.Event == "add-pid"
}
