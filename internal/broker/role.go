package broker

// Role is a broker's place in the replication topology.
type Role int32

const (
	// RoleFollower replicates from a leader and rejects writes
	RoleFollower Role = iota

	// RoleLeader accepts produce requests and offset commits
	RoleLeader
)

// String implements fmt.Stringer.
func (r Role) String() string {
	if r == RoleLeader {
		return "leader"
	}
	return "follower"
}
