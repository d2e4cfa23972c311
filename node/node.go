// Copyright © 2019 Annchain Authors <EMAIL ADDRESS>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package node

import (
	"errors"
	"fmt"

	"github.com/annchain/dagconsensus/committee"
	"github.com/annchain/dagconsensus/common/crypto"
	"github.com/annchain/dagconsensus/consensus"
	"github.com/annchain/dagconsensus/consensus_interface"
	"github.com/annchain/dagconsensus/eventbus"
	"github.com/annchain/dagconsensus/rpc"
	"github.com/annchain/dagconsensus/storage"
	"github.com/annchain/dagconsensus/types"
	"github.com/annchain/dagconsensus/wserver"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

type NodeConfig struct {
	Own        types.AuthorityIndex
	Committee  *committee.Committee
	PrivateKey crypto.PrivateKey
	Parameters consensus.Parameters

	// Store is opened under DataDir when nil.
	Store   consensus_interface.Store
	DataDir string

	Network consensus_interface.NetworkManager

	// CommitSender receives the committed sub dags. Commits after
	// LastProcessedCommitIndex are replayed on start.
	CommitSender             chan *types.CommittedSubDag
	LastProcessedCommitIndex types.CommitIndex

	TransactionVerifier consensus_interface.TransactionVerifier

	// Empty disables the http and websocket servers.
	RpcPort string
	WsAddr  string

	// Zero disables the periodic performance log.
	MonitorIntervalSeconds int

	Logger *logrus.Logger
}

// AuthorityNode is one running authority: the consensus core with its
// network, persistence and outer services.
type AuthorityNode struct {
	Components []Component

	Context           *consensus.Context
	DagState          *consensus.DagState
	CoreThread        *consensus.CoreThread
	TransactionClient *consensus.TransactionClient
	Monitor           *consensus.CommitConsumerMonitor
	WsServer          *wserver.Server

	store     consensus_interface.Store
	ownsStore bool
	observer  *consensus.CommitObserver
	running   *atomic.Bool
	logger    *logrus.Entry
}

func NewAuthorityNode(config NodeConfig) (*AuthorityNode, error) {
	if config.Committee == nil || config.Network == nil || config.CommitSender == nil {
		return nil, errors.New("committee, network and commit sender are required")
	}
	if !config.Committee.IsValidIndex(config.Own) {
		return nil, fmt.Errorf("authority %d is not in the committee", config.Own)
	}
	if err := config.Parameters.Validate(config.Committee.Size()); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	n := &AuthorityNode{
		running: atomic.NewBool(false),
		logger:  logger.WithFields(logrus.Fields{"module": "node", "me": config.Own}),
	}

	n.store = config.Store
	if n.store == nil {
		db, err := storage.NewLevelDB(storage.LevelDBConfig{Path: config.DataDir})
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		n.store = storage.NewConsensusStore(db, blockCacheSize)
		n.ownsStore = true
	}

	ctx := consensus.NewContext(config.Own, config.Committee, config.Parameters, config.PrivateKey, logger)
	n.Context = ctx
	n.DagState = consensus.NewDagState(ctx, n.store)
	schedule := consensus.NewLeaderSchedule(ctx, n.DagState.ScheduleVersions())
	scorer := consensus.NewReputationScorer(ctx)
	client := config.Network.Client()

	// listeners must be registered before the bus is built and the core
	// proposes its first block
	bus := &eventbus.DefaultEventBus{ID: int(config.Own), Logger: logger}
	bus.InitDefault()
	broadcaster := consensus.NewBroadcaster(ctx, client)
	bus.ListenTo(eventbus.EventHandlerRegisterInfo{Type: eventbus.NewBlockEventType, Name: "NewBlock", Handler: broadcaster})
	leaderTimeout := &consensus.LeaderTimeout{
		LeaderTimeout: config.Parameters.LeaderTimeout,
		MinRoundDelay: config.Parameters.MinRoundDelay,
		Logger:        logger,
	}
	leaderTimeout.InitDefault()
	bus.ListenTo(eventbus.EventHandlerRegisterInfo{Type: eventbus.NewRoundEventType, Name: "NewRound", Handler: leaderTimeout})
	if config.WsAddr != "" {
		n.WsServer = wserver.NewServer(config.WsAddr, logger)
		bus.ListenTo(eventbus.EventHandlerRegisterInfo{Type: eventbus.CommitEventType, Name: "Commit", Handler: n.WsServer})
		bus.ListenTo(eventbus.EventHandlerRegisterInfo{Type: eventbus.NewBlockEventType, Name: "NewBlock", Handler: n.WsServer})
	}
	bus.Build()

	consumer := consensus.NewCommitConsumer(config.CommitSender, config.LastProcessedCommitIndex)
	n.Monitor = consumer.Monitor()
	n.observer = consensus.NewCommitObserver(ctx, n.DagState, n.store, schedule, scorer, bus, consumer)
	txClient, txConsumer := consensus.NewTransactionClient(ctx, config.TransactionVerifier)
	n.TransactionClient = txClient
	core := consensus.NewCore(ctx, consensus.CoreComponents{
		DagState:            n.DagState,
		LeaderSchedule:      schedule,
		Scorer:              scorer,
		CommitObserver:      n.observer,
		RoundTracker:        consensus.NewRoundTracker(config.Committee.Size()),
		TransactionConsumer: txConsumer,
		EventBus:            bus,
	})
	n.CoreThread = consensus.NewCoreThread(ctx, core)
	leaderTimeout.Dispatcher = n.CoreThread

	verifier := consensus.NewSignedBlockVerifier(ctx, config.TransactionVerifier)
	reputation := consensus.NewPeerReputation(ctx)
	synchronizer := consensus.NewSynchronizer(ctx, client, n.CoreThread, verifier, n.DagState, reputation)
	config.Network.InstallService(consensus.NewAuthorityService(ctx, verifier, n.CoreThread, synchronizer, n.DagState, reputation))

	// Order matters: the core runs before anything can feed it, and the
	// network opens last.
	n.Components = append(n.Components, n.CoreThread, leaderTimeout, synchronizer, broadcaster, config.Network)
	if config.RpcPort != "" {
		n.Components = append(n.Components, rpc.NewRpcServer(config.RpcPort, &rpc.RpcController{
			Committee:    config.Committee,
			Core:         n.CoreThread,
			Transactions: txClient,
			Schedule:     n.DagState,
			Logger:       logger,
		}))
	}
	if n.WsServer != nil {
		n.Components = append(n.Components, n.WsServer)
	}
	if config.MonitorIntervalSeconds > 0 {
		monitor := &PerformanceMonitor{IntervalSeconds: config.MonitorIntervalSeconds, Logger: logger}
		monitor.Register(n)
		if n.WsServer != nil {
			monitor.Register(n.WsServer)
		}
		n.Components = append(n.Components, monitor)
	}
	return n, nil
}

const blockCacheSize = 4096

func (n *AuthorityNode) Start() {
	if !n.running.CAS(false, true) {
		return
	}
	for _, component := range n.Components {
		n.logger.Infof("Starting %s", component.Name())
		component.Start()
	}
	n.logger.Info("Node Started")
}

func (n *AuthorityNode) Stop() {
	if !n.running.CAS(true, false) {
		return
	}
	for i := len(n.Components) - 1; i >= 0; i-- {
		comp := n.Components[i]
		n.logger.Infof("Stopping %s", comp.Name())
		comp.Stop()
	}
	n.TransactionClient.Close()
	n.observer.Stop()
	if n.ownsStore {
		if err := n.store.Close(); err != nil {
			n.logger.WithError(err).Warn("failed to close store")
		}
	}
	n.logger.Info("Node Stopped")
}

func (n *AuthorityNode) Name() string {
	return fmt.Sprintf("authority %d", n.Context.OwnIndex)
}

func (n *AuthorityNode) GetBenchmarks() map[string]interface{} {
	return map[string]interface{}{
		"last_proposed_round": n.CoreThread.LastProposedRound(),
		"gc_round":            n.DagState.GcRound(),
		"last_commit":         n.DagState.LastCommitIndex(),
		"handled_commit":      n.Monitor.HighestHandledCommit(),
		"pending_deliveries":  n.observer.PendingDeliveries(),
	}
}
