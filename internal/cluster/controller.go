// =============================================================================
// CLUSTER CONTROLLER - FAILURE DETECTION, ELECTION AND FENCING
// =============================================================================
//
// WHAT: An external process that watches the active leader and, when it dies,
// promotes the follower with the most data. It also fences the configured
// (original) leader when it comes back, so the cluster never has two leaders
// for long.
//
// TICK (every PollInterval):
//
//   ┌───────────────────────────────────────────────────────────────────────┐
//   │ probe every known broker (TCP dial, bounded by ProbeTimeout)          │
//   │                                                                       │
//   │ active leader unreachable?                                            │
//   │   yes → failures++                                                    │
//   │         failures == FailureThreshold → ELECTION, failures = 0         │
//   │   no  → failures = 0                                                  │
//   │         active != configured && configured reachable → FENCE          │
//   └───────────────────────────────────────────────────────────────────────┘
//
// ELECTION:
//   1. GET_OFFSET(reference topic) on every follower, concurrently
//   2. rank followers reporting >= 0 by offset, highest first
//      (ties keep configuration order); if none report, take every
//      follower that answered, in configuration order
//   3. PROMOTE candidates in rank order until one acknowledges
//   4. winner becomes active leader and leaves the follower pool;
//      every remaining follower gets UPDATE_LEADER(winner)
//   No acknowledgement → active leader unchanged; the next threshold
//   crossing runs the election again.
//
// FENCING (zombie leader):
//
//   configured leader L crashes ──► follower F promoted ──► L restarts
//   still believing it leads. On every healthy tick where L is reachable
//   the controller sends L: DEMOTE(F). L becomes a follower of F, and the
//   first acknowledgement adds L to the follower pool.
//
// DETECTION LATENCY: about PollInterval × FailureThreshold (6s by default).
//
// =============================================================================

package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/andrewc773/kafka-lite/internal/metrics"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// BrokerClient is the control-plane view of one broker.
type BrokerClient interface {
	GetOffset(ctx context.Context, topic string) (int64, error)
	Promote(ctx context.Context) error
	Demote(ctx context.Context, host string, port int) error
	UpdateLeader(ctx context.Context, host string, port int) error
}

// ClientFactory returns the client used to reach a broker.
type ClientFactory func(addr BrokerAddress) BrokerClient

// =============================================================================
// CONFIGURATION
// =============================================================================

var (
	// ErrNoFollowers means the controller was configured without followers
	ErrNoFollowers = errors.New("controller needs at least one follower")

	// ErrDuplicateBroker means an address appears twice in the configuration
	ErrDuplicateBroker = errors.New("broker listed twice")
)

// ControllerConfig configures the controller.
type ControllerConfig struct {
	// Leader is the configured (original) leader.
	Leader BrokerAddress

	// Followers are promotion candidates in preference order.
	Followers []BrokerAddress

	// PollInterval is the time between ticks.
	PollInterval time.Duration

	// FailureThreshold is how many consecutive failed probes trigger election.
	FailureThreshold int

	// ProbeTimeout bounds each probe and each RPC.
	ProbeTimeout time.Duration

	// ReferenceTopic is the topic whose offsets rank candidates.
	ReferenceTopic string
}

// DefaultControllerConfig returns production defaults.
func DefaultControllerConfig(leader BrokerAddress, followers ...BrokerAddress) ControllerConfig {
	return ControllerConfig{
		Leader:           leader,
		Followers:        followers,
		PollInterval:     2 * time.Second,
		FailureThreshold: 3,
		ProbeTimeout:     2 * time.Second,
		ReferenceTopic:   "p1",
	}
}

// Validate checks the configuration.
func (c ControllerConfig) Validate() error {
	if !c.Leader.IsValid() {
		return fmt.Errorf("%w: leader %q", ErrInvalidAddress, c.Leader)
	}
	if len(c.Followers) == 0 {
		return ErrNoFollowers
	}
	seen := map[BrokerAddress]bool{c.Leader: true}
	for _, f := range c.Followers {
		if !f.IsValid() {
			return fmt.Errorf("%w: follower %q", ErrInvalidAddress, f)
		}
		if seen[f] {
			return fmt.Errorf("%w: %s", ErrDuplicateBroker, f)
		}
		seen[f] = true
	}
	if c.PollInterval <= 0 || c.ProbeTimeout <= 0 {
		return fmt.Errorf("poll interval and probe timeout must be positive")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.ReferenceTopic == "" {
		return fmt.Errorf("reference topic is required")
	}
	return nil
}

// =============================================================================
// CLUSTER VIEW
// =============================================================================

// ClusterView is a snapshot of the controller's state.
type ClusterView struct {
	ConfiguredLeader    BrokerAddress
	ActiveLeader        BrokerAddress
	Followers           []BrokerAddress
	ConsecutiveFailures int
	Statuses            map[BrokerAddress]NodeStatus
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller monitors the leader and drives failover.
type Controller struct {
	config  ControllerConfig
	prober  Prober
	clients ClientFactory
	metrics *metrics.ControllerMetrics
	logger  *slog.Logger

	// tickMu serializes ticks; RPCs run under it but not under mu.
	tickMu sync.Mutex

	// mu protects the cluster view below.
	mu           sync.RWMutex
	active       BrokerAddress
	followers    []BrokerAddress
	failures     int
	nodeFailures map[BrokerAddress]int
}

// NewController validates config and creates a controller whose active
// leader is the configured leader.
func NewController(
	config ControllerConfig,
	prober Prober,
	clients ClientFactory,
	m *metrics.ControllerMetrics,
	logger *slog.Logger,
) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		config:       config,
		prober:       prober,
		clients:      clients,
		metrics:      m,
		logger:       logger.With("component", "controller"),
		active:       config.Leader,
		followers:    append([]BrokerAddress(nil), config.Followers...),
		nodeFailures: make(map[BrokerAddress]int),
	}, nil
}

// Run ticks every PollInterval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("controller started",
		"leader", c.config.Leader.String(),
		"followers", len(c.config.Followers),
		"poll_interval", c.config.PollInterval,
		"failure_threshold", c.config.FailureThreshold)

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		c.Tick(ctx)
		c.logger.Info("cluster health\n" + c.HealthReport())

		select {
		case <-ctx.Done():
			c.logger.Info("controller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one monitoring round.
func (c *Controller) Tick(ctx context.Context) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	view := c.View()
	reachable := c.probeAll(ctx, view)

	if !reachable[view.ActiveLeader] {
		c.mu.Lock()
		c.failures++
		failures := c.failures
		c.mu.Unlock()

		c.metrics.RecordProbeFailure()
		c.logger.Warn("leader probe failed",
			"leader", view.ActiveLeader.String(),
			"consecutive_failures", failures,
			"threshold", c.config.FailureThreshold)

		if failures >= c.config.FailureThreshold {
			c.elect(ctx, reachable)
			c.mu.Lock()
			c.failures = 0
			c.mu.Unlock()
		}
		return
	}

	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()

	if view.ActiveLeader != view.ConfiguredLeader && reachable[view.ConfiguredLeader] {
		c.fence(ctx, view.ConfiguredLeader, view.ActiveLeader)
	}
}

// probeAll probes every known broker concurrently and updates node statuses.
func (c *Controller) probeAll(ctx context.Context, view ClusterView) map[BrokerAddress]bool {
	nodes := knownNodes(view)
	ok := make([]bool, len(nodes))

	var g errgroup.Group
	for i, addr := range nodes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
			defer cancel()
			ok[i] = c.prober.Probe(pctx, addr) == nil
			return nil
		})
	}
	_ = g.Wait()

	reachable := make(map[BrokerAddress]bool, len(nodes))
	c.mu.Lock()
	for i, addr := range nodes {
		reachable[addr] = ok[i]
		if ok[i] {
			c.nodeFailures[addr] = 0
		} else if c.nodeFailures[addr] < c.config.FailureThreshold {
			c.nodeFailures[addr]++
		}
		c.metrics.SetNodeStatus(addr.String(), int(statusFor(c.nodeFailures[addr], c.config.FailureThreshold)))
	}
	c.mu.Unlock()
	return reachable
}

// knownNodes lists configured leader, active leader and followers, deduplicated.
func knownNodes(view ClusterView) []BrokerAddress {
	seen := make(map[BrokerAddress]bool)
	var nodes []BrokerAddress
	add := func(a BrokerAddress) {
		if !seen[a] {
			seen[a] = true
			nodes = append(nodes, a)
		}
	}
	add(view.ConfiguredLeader)
	add(view.ActiveLeader)
	for _, f := range view.Followers {
		add(f)
	}
	return nodes
}

// =============================================================================
// ELECTION
// =============================================================================

type candidate struct {
	addr     BrokerAddress
	offset   int64
	answered bool
}

// elect promotes the best follower. The active leader changes only when a
// candidate acknowledges PROMOTE.
func (c *Controller) elect(ctx context.Context, reachable map[BrokerAddress]bool) {
	c.mu.RLock()
	followers := append([]BrokerAddress(nil), c.followers...)
	failed := c.active
	c.mu.RUnlock()

	c.logger.Warn("leader declared dead, starting election",
		"failed_leader", failed.String(),
		"followers", len(followers))

	ranked := c.rankCandidates(ctx, followers, reachable)
	if len(ranked) == 0 {
		c.metrics.RecordElection("no_candidate")
		c.logger.Error("election failed: no follower reachable", "failed_leader", failed.String())
		return
	}

	var winner BrokerAddress
	for _, cand := range ranked {
		rctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
		err := c.clients(cand).Promote(rctx)
		cancel()
		if err != nil {
			c.logger.Error("promote failed, trying next candidate", "candidate", cand.String(), "error", err)
			continue
		}
		winner = cand
		break
	}
	if winner.IsZero() {
		c.metrics.RecordElection("failed")
		c.logger.Error("election failed: no candidate accepted promotion", "candidates", len(ranked))
		return
	}

	c.mu.Lock()
	c.active = winner
	c.followers = without(c.followers, winner)
	remaining := append([]BrokerAddress(nil), c.followers...)
	c.mu.Unlock()

	c.metrics.RecordElection("promoted")
	c.logger.Info("new leader elected", "leader", winner.String(), "previous", failed.String())

	c.broadcastLeader(ctx, winner, remaining)
}

// rankCandidates orders followers for promotion: those reporting an offset
// for the reference topic, highest first. When none reports one, every
// reachable follower in configuration order.
func (c *Controller) rankCandidates(ctx context.Context, followers []BrokerAddress, reachable map[BrokerAddress]bool) []BrokerAddress {
	cands := make([]candidate, len(followers))

	var g errgroup.Group
	for i, addr := range followers {
		cands[i] = candidate{addr: addr, offset: -1}
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
			defer cancel()

			offset, err := c.clients(addr).GetOffset(qctx, c.config.ReferenceTopic)
			if err != nil {
				c.logger.Warn("offset query failed", "follower", addr.String(), "error", err)
				return nil
			}
			cands[i].offset = offset
			cands[i].answered = true
			return nil
		})
	}
	_ = g.Wait()

	var reporting, alive []candidate
	for _, cand := range cands {
		if reachable[cand.addr] {
			alive = append(alive, cand)
		}
		if cand.answered && cand.offset >= 0 {
			reporting = append(reporting, cand)
		}
	}

	pool := reporting
	if len(pool) == 0 {
		pool = alive
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].offset > pool[j].offset })

	ranked := make([]BrokerAddress, len(pool))
	for i, cand := range pool {
		ranked[i] = cand.addr
		c.logger.Debug("election candidate", "rank", i+1, "follower", cand.addr.String(), "offset", cand.offset)
	}
	return ranked
}

// broadcastLeader sends UPDATE_LEADER(winner) to followers concurrently.
func (c *Controller) broadcastLeader(ctx context.Context, winner BrokerAddress, followers []BrokerAddress) {
	var g errgroup.Group
	for _, f := range followers {
		g.Go(func() error {
			uctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
			defer cancel()
			if err := c.clients(f).UpdateLeader(uctx, winner.Host, winner.Port); err != nil {
				c.logger.Error("update leader failed", "follower", f.String(), "leader", winner.String(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// =============================================================================
// FENCING
// =============================================================================

// fence demotes a returning configured leader under the active one.
func (c *Controller) fence(ctx context.Context, zombie, active BrokerAddress) {
	fctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	if err := c.clients(zombie).Demote(fctx, active.Host, active.Port); err != nil {
		c.logger.Error("failed to demote former leader", "broker", zombie.String(), "leader", active.String(), "error", err)
		return
	}

	c.mu.Lock()
	added := !contains(c.followers, zombie)
	if added {
		c.followers = append(c.followers, zombie)
	}
	c.mu.Unlock()

	if added {
		c.metrics.RecordFencing()
		c.logger.Info("former leader demoted and rejoined as follower", "broker", zombie.String(), "leader", active.String())
	}
}

// =============================================================================
// VIEW & REPORTING
// =============================================================================

// View returns a snapshot of the cluster state.
func (c *Controller) View() ClusterView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	view := ClusterView{
		ConfiguredLeader:    c.config.Leader,
		ActiveLeader:        c.active,
		Followers:           append([]BrokerAddress(nil), c.followers...),
		ConsecutiveFailures: c.failures,
		Statuses:            make(map[BrokerAddress]NodeStatus, len(c.nodeFailures)),
	}
	for addr, n := range c.nodeFailures {
		view.Statuses[addr] = statusFor(n, c.config.FailureThreshold)
	}
	return view
}

// ActiveLeader returns the broker currently considered leader.
func (c *Controller) ActiveLeader() BrokerAddress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// HealthReport renders the cluster state as a table.
func (c *Controller) HealthReport() string {
	view := c.View()

	var sb strings.Builder
	fmt.Fprintf(&sb, "active leader: %s (configured %s), consecutive failures: %d/%d\n",
		view.ActiveLeader, view.ConfiguredLeader, view.ConsecutiveFailures, c.config.FailureThreshold)

	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BROKER\tROLE\tSTATUS")
	for _, addr := range knownNodes(view) {
		role := "follower"
		switch {
		case addr == view.ActiveLeader:
			role = "leader"
		case !contains(view.Followers, addr):
			role = "former-leader"
		}
		status := "UNKNOWN"
		if s, ok := view.Statuses[addr]; ok {
			status = s.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", addr, role, status)
	}
	tw.Flush()
	return sb.String()
}

func contains(list []BrokerAddress, addr BrokerAddress) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

func without(list []BrokerAddress, addr BrokerAddress) []BrokerAddress {
	out := list[:0:0]
	for _, a := range list {
		if a != addr {
			out = append(out, a)
		}
	}
	return out
}
