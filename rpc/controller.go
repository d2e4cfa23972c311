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

package rpc

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/annchain/dagconsensus/committee"
	"github.com/annchain/dagconsensus/consensus"
	"github.com/annchain/dagconsensus/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 3 * time.Second

type StatusProvider interface {
	Status(ctx context.Context) (consensus.Status, error)
}

type TransactionSubmitter interface {
	Submit(ctx context.Context, txs []types.Transaction) (*consensus.TransactionHandle, error)
	Lookup(id uuid.UUID) (*consensus.TransactionHandle, bool)
}

type ScheduleReader interface {
	ScheduleVersions() []types.ScheduleVersion
}

type RpcController struct {
	Committee    *committee.Committee
	Core         StatusProvider
	Transactions TransactionSubmitter
	Schedule     ScheduleReader
	Logger       *logrus.Logger
}

func (r *RpcController) logger() *logrus.Logger {
	if r.Logger == nil {
		return logrus.StandardLogger()
	}
	return r.Logger
}

type NewTxRequest struct {
	Transactions []string `json:"transactions"`
}

type TxStatusResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Block       string `json:"block,omitempty"`
	CommitIndex uint32 `json:"commit_index,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type AuthorityInfo struct {
	Index     uint32 `json:"index"`
	Hostname  string `json:"hostname"`
	Stake     uint64 `json:"stake"`
	PublicKey string `json:"public_key"`
}

type CommitteeResponse struct {
	Epoch             uint64          `json:"epoch"`
	TotalStake        uint64          `json:"total_stake"`
	QuorumThreshold   uint64          `json:"quorum_threshold"`
	ValidityThreshold uint64          `json:"validity_threshold"`
	Authorities       []AuthorityInfo `json:"authorities"`
}

type ScheduleVersionResponse struct {
	StartRound uint32   `json:"start_round"`
	Scores     []uint64 `json:"scores"`
}

func txStatusResponse(h *consensus.TransactionHandle) TxStatusResponse {
	s := h.Status()
	resp := TxStatusResponse{
		ID:     h.ID.String(),
		Status: s.Kind.String(),
		Reason: s.Reason,
	}
	if s.Kind == consensus.TransactionIncluded || s.Kind == consensus.TransactionCommitted {
		resp.Block = s.Block.String()
	}
	if s.Kind == consensus.TransactionCommitted {
		resp.CommitIndex = uint32(s.CommitIndex)
	}
	return resp
}

func (r *RpcController) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	status, err := r.Core.Status(ctx)
	if err != nil {
		Response(c, http.StatusServiceUnavailable, err, nil)
		return
	}
	Response(c, http.StatusOK, nil, status)
}

func (r *RpcController) CommitteeInfo(c *gin.Context) {
	resp := CommitteeResponse{
		Epoch:             r.Committee.Epoch(),
		TotalStake:        r.Committee.TotalStake(),
		QuorumThreshold:   r.Committee.QuorumThreshold(),
		ValidityThreshold: r.Committee.ValidityThreshold(),
	}
	for _, a := range r.Committee.Authorities() {
		resp.Authorities = append(resp.Authorities, AuthorityInfo{
			Index:     uint32(a.Index),
			Hostname:  a.Hostname,
			Stake:     a.Stake,
			PublicKey: a.PublicKey.Hex(),
		})
	}
	Response(c, http.StatusOK, nil, resp)
}

func (r *RpcController) LeaderSchedule(c *gin.Context) {
	var resp []ScheduleVersionResponse
	for _, v := range r.Schedule.ScheduleVersions() {
		resp = append(resp, ScheduleVersionResponse{StartRound: uint32(v.StartRound), Scores: v.Scores})
	}
	Response(c, http.StatusOK, nil, resp)
}

func (r *RpcController) NewTransaction(c *gin.Context) {
	var req NewTxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Response(c, http.StatusBadRequest, fmt.Errorf("request format error: %v", err), nil)
		return
	}
	txs := make([]types.Transaction, 0, len(req.Transactions))
	for i, s := range req.Transactions {
		tx, err := hex.DecodeString(s)
		if err != nil {
			Response(c, http.StatusBadRequest, fmt.Errorf("transaction %d is not hex: %v", i, err), nil)
			return
		}
		txs = append(txs, tx)
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	handle, err := r.Transactions.Submit(ctx, txs)
	if err != nil {
		Response(c, http.StatusServiceUnavailable, err, nil)
		return
	}
	resp := txStatusResponse(handle)
	if handle.Status().Kind == consensus.TransactionRejected {
		Response(c, http.StatusBadRequest, fmt.Errorf("rejected: %s", resp.Reason), resp)
		return
	}
	r.logger().WithField("id", resp.ID).WithField("txs", len(txs)).Debug("transactions submitted")
	Response(c, http.StatusOK, nil, resp)
}

func (r *RpcController) Transaction(c *gin.Context) {
	id, err := uuid.Parse(c.Query("id"))
	if err != nil {
		Response(c, http.StatusBadRequest, fmt.Errorf("id format error: %v", err), nil)
		return
	}
	handle, ok := r.Transactions.Lookup(id)
	if !ok {
		Response(c, http.StatusNotFound, fmt.Errorf("transaction %s not found", id), nil)
		return
	}
	Response(c, http.StatusOK, nil, txStatusResponse(handle))
}

func Response(c *gin.Context, status int, err error, data interface{}) {
	var msg string
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, gin.H{
		"err":  msg,
		"data": data,
	})
}
