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
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/annchain/dagconsensus/common/crypto"
	"github.com/annchain/dagconsensus/common/encryption"
	"github.com/annchain/dagconsensus/common/io"
	"github.com/annchain/dagconsensus/consensus"
	"github.com/spf13/viper"
)

// ParametersFromViper overrides the defaults with the keys set under
// "consensus".
func ParametersFromViper() (consensus.Parameters, error) {
	p := consensus.DefaultParameters()
	setDuration := func(key string, dst *time.Duration) {
		if viper.IsSet("consensus." + key) {
			*dst = viper.GetDuration("consensus." + key)
		}
	}
	setInt := func(key string, dst *int) {
		if viper.IsSet("consensus." + key) {
			*dst = viper.GetInt("consensus." + key)
		}
	}
	setUint32 := func(key string, dst *uint32) {
		if viper.IsSet("consensus." + key) {
			*dst = viper.GetUint32("consensus." + key)
		}
	}

	setDuration("leader_timeout", &p.LeaderTimeout)
	setDuration("min_round_delay", &p.MinRoundDelay)
	setDuration("max_forward_time_drift", &p.MaxForwardTimeDrift)
	setInt("max_transactions_in_block_bytes", &p.MaxTransactionsInBlockBytes)
	setInt("max_num_transactions_in_block", &p.MaxNumTransactionsInBlock)
	setInt("max_transaction_size_bytes", &p.MaxTransactionSizeBytes)
	setInt("transaction_queue_size", &p.TransactionQueueSize)
	setUint32("gc_depth", &p.GcDepth)
	setUint32("wave_length", &p.WaveLength)
	setInt("num_leaders_per_round", &p.NumLeadersPerRound)
	if viper.IsSet("consensus.pipeline") {
		p.Pipeline = viper.GetBool("consensus.pipeline")
	}
	if viper.IsSet("consensus.leader_swap_strategy") {
		s, err := consensus.ParseLeaderSwapStrategy(viper.GetString("consensus.leader_swap_strategy"))
		if err != nil {
			return p, err
		}
		p.LeaderSwapStrategy = s
	}
	if viper.IsSet("consensus.scoring_strategy") {
		s, err := consensus.ParseScoringStrategy(viper.GetString("consensus.scoring_strategy"))
		if err != nil {
			return p, err
		}
		p.ScoringStrategy = s
	}
	setUint32("leader_scoring_window", &p.LeaderScoringWindow)
	if viper.IsSet("consensus.leader_min_weight_percent") {
		p.LeaderMinWeightPercent = viper.GetUint64("consensus.leader_min_weight_percent")
	}
	setUint32("ancestor_staleness_rounds", &p.AncestorStalenessRounds)
	setInt("max_suspended_blocks", &p.MaxSuspendedBlocks)
	setDuration("suspended_block_timeout", &p.SuspendedBlockTimeout)
	setInt("command_queue_size", &p.CommandQueueSize)
	setInt("max_blocks_per_fetch", &p.MaxBlocksPerFetch)
	setInt("fetch_queue_size", &p.FetchQueueSize)
	setInt("fetch_concurrency", &p.FetchConcurrency)
	setDuration("fetch_timeout", &p.FetchTimeout)
	setInt("fetch_max_retries", &p.FetchMaxRetries)
	setDuration("fetch_backoff_initial", &p.FetchBackoffInitial)
	setDuration("fetch_backoff_max", &p.FetchBackoffMax)
	setDuration("fetch_dedup_expiration", &p.FetchDedupExpiration)
	setDuration("sync_interval", &p.SyncInterval)
	setInt("broadcast_queue_size", &p.BroadcastQueueSize)
	setDuration("broadcast_timeout", &p.BroadcastTimeout)
	setInt("broadcast_retries", &p.BroadcastRetries)
	setInt("peer_penalty_threshold", &p.PeerPenaltyThreshold)
	setDuration("peer_penalty_expiration", &p.PeerPenaltyExpiration)
	return p, nil
}

// LoadPrivateKey reads a hex ed25519 seed, sealed with the passphrase
// unless it is empty.
func LoadPrivateKey(path string, passphrase string) (crypto.PrivateKey, error) {
	var content []byte
	var err error
	if passphrase == "" {
		content, err = ioutil.ReadFile(path)
	} else {
		content, err = encryption.DecryptFile(path, passphrase)
	}
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	signer := &crypto.SignerEd25519{}
	key, err := signer.PrivateKeyFromHex(strings.TrimSpace(string(content)))
	if err != nil {
		return crypto.PrivateKey{}, fmt.Errorf("key file %s: %w", path, err)
	}
	return key, nil
}

func SavePrivateKey(path string, key crypto.PrivateKey, passphrase string) error {
	signer := &crypto.SignerEd25519{}
	content := []byte(signer.SeedHex(key) + "\n")
	if passphrase != "" {
		return encryption.EncryptFile(path, content, passphrase)
	}
	return io.WriteFileAtomic(path, content, 0600)
}

// ResolvePath resolves path in the data directory.
func ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(viper.GetString("datadir"), path)
}
