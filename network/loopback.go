package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/annchain/dagconsensus/consensus_interface"
	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var ErrPeerUnreachable = errors.New("peer unreachable")

// LoopbackHub connects the authorities of one process. Every authority
// registers a LoopbackNetwork on the hub and talks to the others through it.
type LoopbackHub struct {
	mu       sync.RWMutex
	networks map[types.AuthorityIndex]*LoopbackNetwork
	// cut links are directional: from -> to
	cut map[[2]types.AuthorityIndex]bool
}

func NewLoopbackHub() *LoopbackHub {
	return &LoopbackHub{
		networks: make(map[types.AuthorityIndex]*LoopbackNetwork),
		cut:      make(map[[2]types.AuthorityIndex]bool),
	}
}

// Network returns the network of authority own, creating it on first use.
func (h *LoopbackHub) Network(own types.AuthorityIndex, logger *logrus.Logger) *LoopbackNetwork {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n, ok := h.networks[own]; ok {
		return n
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	n := &LoopbackNetwork{
		Own:     own,
		hub:     h,
		running: atomic.NewBool(false),
		logger:  logger.WithFields(logrus.Fields{"module": "loopback", "authority": own}),
	}
	h.networks[own] = n
	return n
}

// Isolate cuts every link to and from authority a.
func (h *LoopbackHub) Isolate(a types.AuthorityIndex) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for other := range h.networks {
		if other != a {
			h.cut[[2]types.AuthorityIndex{a, other}] = true
			h.cut[[2]types.AuthorityIndex{other, a}] = true
		}
	}
}

// Heal restores every link.
func (h *LoopbackHub) Heal() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cut = make(map[[2]types.AuthorityIndex]bool)
}

func (h *LoopbackHub) route(from, to types.AuthorityIndex) (consensus_interface.NetworkService, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cut[[2]types.AuthorityIndex{from, to}] {
		return nil, fmt.Errorf("%w: link %d -> %d is cut", ErrPeerUnreachable, from, to)
	}
	n, ok := h.networks[to]
	if !ok || !n.running.Load() {
		return nil, fmt.Errorf("%w: authority %d is not running", ErrPeerUnreachable, to)
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.service == nil {
		return nil, fmt.Errorf("%w: authority %d has no service", ErrPeerUnreachable, to)
	}
	return n.service, nil
}

// LoopbackNetwork is the NetworkManager of one authority on a hub.
type LoopbackNetwork struct {
	Own types.AuthorityIndex

	hub     *LoopbackHub
	mu      sync.RWMutex
	service consensus_interface.NetworkService
	running *atomic.Bool
	logger  *logrus.Entry
}

var _ consensus_interface.NetworkManager = (*LoopbackNetwork)(nil)

func (n *LoopbackNetwork) Client() consensus_interface.NetworkClient {
	return &loopbackClient{network: n}
}

func (n *LoopbackNetwork) InstallService(service consensus_interface.NetworkService) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.service = service
}

func (n *LoopbackNetwork) Start() {
	n.running.Store(true)
	n.logger.Info("loopback network started")
}

func (n *LoopbackNetwork) Stop() {
	n.running.Store(false)
	n.logger.Info("loopback network stopped")
}

func (n *LoopbackNetwork) Name() string {
	return "LoopbackNetwork"
}

type loopbackClient struct {
	network *LoopbackNetwork
}

func (c *loopbackClient) dial(ctx context.Context, peer types.AuthorityIndex) (consensus_interface.NetworkService, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.network.running.Load() {
		return nil, fmt.Errorf("%w: authority %d is not running", ErrPeerUnreachable, c.network.Own)
	}
	return c.network.hub.route(c.network.Own, peer)
}

// SendBlock hands a copy of the bytes to the peer, as a real transport would.
func (c *loopbackClient) SendBlock(ctx context.Context, peer types.AuthorityIndex, serializedBlock []byte) error {
	service, err := c.dial(ctx, peer)
	if err != nil {
		return err
	}
	return service.HandleSendBlock(ctx, c.network.Own, append([]byte(nil), serializedBlock...))
}

func (c *loopbackClient) FetchBlocks(ctx context.Context, peer types.AuthorityIndex, refs []types.BlockRef) ([][]byte, error) {
	service, err := c.dial(ctx, peer)
	if err != nil {
		return nil, err
	}
	served, err := service.HandleFetchBlocks(ctx, c.network.Own, append([]types.BlockRef(nil), refs...))
	if err != nil {
		return nil, err
	}
	result := make([][]byte, len(served))
	for i, b := range served {
		result[i] = append([]byte(nil), b...)
	}
	return result, nil
}
