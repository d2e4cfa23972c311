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

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/annchain/dagconsensus/committee"
	"github.com/annchain/dagconsensus/mylog"
	"github.com/annchain/dagconsensus/network"
	"github.com/annchain/dagconsensus/node"
	"github.com/annchain/dagconsensus/types"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the local committee",
	Long:  `Start every authority of the committee file in this process, connected by the loopback network`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// init logs and other facilities before the nodes start
		readConfig()
		initLogger()
		log.WithField("pid", os.Getpid()).Info("Committee starting")

		lc, err := newLocalCommittee()
		if err != nil {
			return err
		}
		lc.Start()

		// prevent sudden stop. Do your clean up here
		gracefulStop := make(chan os.Signal, 1)
		signal.Notify(gracefulStop, syscall.SIGTERM, syscall.SIGINT)
		sig := <-gracefulStop
		log.Warnf("caught sig: %+v", sig)
		log.Warn("Exiting... Please do no kill me")
		lc.Stop()
		return nil
	},
}

// localCommittee is every authority of one committee file running in this
// process.
type localCommittee struct {
	nodes   []*node.AuthorityNode
	clients []*node.AutoClient
	quit    chan struct{}
}

func newLocalCommittee() (*localCommittee, error) {
	c, err := committee.LoadCommitteeFile(dataPath(viper.GetString("committee_file")))
	if err != nil {
		return nil, fmt.Errorf("%w (run keygen first)", err)
	}
	params, err := node.ParametersFromViper()
	if err != nil {
		return nil, err
	}
	rpcBase := viper.GetInt("rpc.port")
	wsBase := viper.GetInt("websocket.port")
	hub := network.NewLoopbackHub()
	lc := &localCommittee{quit: make(chan struct{})}

	for i := 0; i < c.Size(); i++ {
		key, err := node.LoadPrivateKey(keyPath(i), viper.GetString("key_passphrase"))
		if err != nil {
			return nil, err
		}
		logger := mylog.NewAuthorityLogger(log.StandardLogger(), i)
		own := types.AuthorityIndex(i)
		commits := make(chan *types.CommittedSubDag, viper.GetInt("commit_channel_size"))
		config := node.NodeConfig{
			Own:                    own,
			Committee:              c,
			PrivateKey:             key,
			Parameters:             params,
			DataDir:                filepath.Join(dataPath("db"), fmt.Sprintf("authority-%d", i)),
			Network:                hub.Network(own, logger),
			CommitSender:           commits,
			MonitorIntervalSeconds: viper.GetInt("monitor.interval_seconds"),
			Logger:                 logger,
		}
		if rpcBase > 0 {
			config.RpcPort = strconv.Itoa(rpcBase + i)
		}
		if wsBase > 0 {
			config.WsAddr = ":" + strconv.Itoa(wsBase+i)
		}
		n, err := node.NewAuthorityNode(config)
		if err != nil {
			lc.Stop()
			return nil, fmt.Errorf("authority %d: %w", i, err)
		}
		lc.nodes = append(lc.nodes, n)
		go lc.drain(logger, commits)

		if viper.GetBool("auto_client.enabled") {
			client := &node.AutoClient{
				Submitter:    n.TransactionClient,
				TxIntervalMs: viper.GetInt("auto_client.interval_ms"),
				IntervalMode: viper.GetString("auto_client.interval_mode"),
				BatchSize:    viper.GetInt("auto_client.batch_size"),
				TxSize:       viper.GetInt("auto_client.tx_size"),
				Logger:       logger,
			}
			client.InitDefault()
			lc.clients = append(lc.clients, client)
		}
	}
	return lc, nil
}

// drain stands in for the application: committed sub dags are only logged.
func (lc *localCommittee) drain(logger *log.Logger, commits chan *types.CommittedSubDag) {
	for {
		select {
		case s := <-commits:
			logger.WithFields(log.Fields{
				"index":  s.CommitRef.Index,
				"leader": s.Leader,
				"blocks": len(s.Blocks),
			}).Debug("committed")
		case <-lc.quit:
			return
		}
	}
}

func (lc *localCommittee) Start() {
	for _, n := range lc.nodes {
		n.Start()
	}
	for _, c := range lc.clients {
		c.Start()
	}
}

func (lc *localCommittee) Stop() {
	for _, c := range lc.clients {
		c.Stop()
	}
	for _, n := range lc.nodes {
		n.Stop()
	}
	close(lc.quit)
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Int("rpc_port", 8000, "First rpc port, authority i listens on rpc_port+i. 0 disables rpc")
	runCmd.Flags().Int("ws_port", 8100, "First websocket port, authority i listens on ws_port+i. 0 disables websocket")
	runCmd.Flags().Bool("auto_client", false, "Submit random transactions to every authority")

	_ = viper.BindPFlag("rpc.port", runCmd.Flags().Lookup("rpc_port"))
	_ = viper.BindPFlag("websocket.port", runCmd.Flags().Lookup("ws_port"))
	_ = viper.BindPFlag("auto_client.enabled", runCmd.Flags().Lookup("auto_client"))

	viper.SetDefault("commit_channel_size", 1000)
	viper.SetDefault("monitor.interval_seconds", 10)
	viper.SetDefault("auto_client.interval_ms", 100)
	viper.SetDefault("auto_client.interval_mode", "random")
	viper.SetDefault("auto_client.batch_size", 4)
	viper.SetDefault("auto_client.tx_size", 64)
}
