package api

import "fmt"

// Kind identifies a broker request type. Every route carries exactly one.
type Kind int

const (
	KindProduce Kind = iota + 1
	KindConsume
	KindGetOffset
	KindReplicaFetch
	KindListTopics
	KindPromote
	KindDemote
	KindUpdateLeader
	KindOffsetCommit
	KindOffsetFetch
	KindStats
	KindHealth
	KindMetrics
)

var kindNames = map[Kind]string{
	KindProduce:      "produce",
	KindConsume:      "consume",
	KindGetOffset:    "get_offset",
	KindReplicaFetch: "replica_fetch",
	KindListTopics:   "list_topics",
	KindPromote:      "promote",
	KindDemote:       "demote",
	KindUpdateLeader: "update_leader",
	KindOffsetCommit: "offset_commit",
	KindOffsetFetch:  "offset_fetch",
	KindStats:        "stats",
	KindHealth:       "health",
	KindMetrics:      "metrics",
}

// String implements fmt.Stringer; used as the metrics label.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}
