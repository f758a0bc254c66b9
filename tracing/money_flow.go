package tracing

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// MoneyFlowDecoder turns frame and log events into a ledger of asset transfers.
// Callers pass the call stack snapshot that should be attached to any entry produced.
type MoneyFlowDecoder struct {
	mfIndex  int
	moneys   []MoneyFlowEntry
	failures []DecodeFailure
	handlers map[logKey]logHandler
}

// NewMoneyFlowDecoder creates a decoder for the three supported token conventions.
func NewMoneyFlowDecoder() *MoneyFlowDecoder {
	d := &MoneyFlowDecoder{
		moneys:   make([]MoneyFlowEntry, 0),
		failures: make([]DecodeFailure, 0),
	}
	d.handlers = map[logKey]logHandler{
		{topics: 3, sig: TransferSig}:       decodeFungibleTransfer,
		{topics: 4, sig: TransferSig}:       decodeNonFungibleTransfer,
		{topics: 4, sig: TransferSingleSig}: decodeTransferSingle,
		{topics: 4, sig: TransferBatchSig}:  decodeTransferBatch,
	}
	return d
}

// OnEnter records the native value moved by a CALL or a contract creation.
// STATICCALL, DELEGATECALL and CALLCODE never move value between accounts here.
// For creations to is the deployment address.
func (d *MoneyFlowDecoder) OnEnter(kind CallKind, from, to common.Address, value *big.Int, stack CallStack) {
	if value == nil || value.Sign() == 0 {
		return
	}
	if kind != KindCall && !kind.IsCreate() {
		return
	}
	d.append(MoneyFlowEntry{
		From:      FormatAddress(from),
		To:        FormatAddress(to),
		Token:     NativeToken,
		Amount:    value.String(),
		CallStack: stack.Copy(),
	})
}

// OnSelfDestruct records the balance swept to the beneficiary.
func (d *MoneyFlowDecoder) OnSelfDestruct(contract, beneficiary common.Address, value *big.Int, stack CallStack) {
	if value == nil || value.Sign() == 0 {
		return
	}
	d.append(MoneyFlowEntry{
		From:      FormatAddress(contract),
		To:        FormatAddress(beneficiary),
		Token:     NativeToken,
		Amount:    value.String(),
		CallStack: stack.Copy(),
	})
}

// OnLog decodes a token transfer log. Logs of any other shape are ignored; a recognized
// shape with a malformed payload is recorded as a failure and produces no entries.
// It returns the number of entries appended.
func (d *MoneyFlowDecoder) OnLog(logIndex int, emitter common.Address, topics []common.Hash, data []byte, stack CallStack) int {
	if len(topics) == 0 {
		return 0
	}
	key := logKey{topics: len(topics), sig: topics[0]}
	handler, ok := d.handlers[key]
	if !ok {
		return 0
	}
	token := FormatAddress(emitter)
	transfers, err := handler(topics, data)
	if err != nil {
		log.Warn("Skipping malformed transfer log", "emitter", token, "shape", key.shape(), "logIndex", logIndex, "err", err)
		d.failures = append(d.failures, DecodeFailure{
			LogIndex: logIndex,
			Emitter:  token,
			Shape:    key.shape(),
			Reason:   err.Error(),
			Stack:    stack.Copy(),
		})
		return 0
	}
	// A batch shares one snapshot across all its entries.
	snapshot := stack.Copy()
	for _, tr := range transfers {
		d.append(MoneyFlowEntry{
			From:      tr.from,
			To:        tr.to,
			Token:     token,
			Amount:    tr.amount,
			TokenID:   tr.tokenID,
			CallStack: snapshot,
		})
	}
	return len(transfers)
}

// MoneyFlows returns the ledger in index order.
func (d *MoneyFlowDecoder) MoneyFlows() []MoneyFlowEntry {
	return d.moneys
}

// Failures returns the logs that matched a known shape but could not be decoded.
func (d *MoneyFlowDecoder) Failures() []DecodeFailure {
	return d.failures
}

func (d *MoneyFlowDecoder) append(entry MoneyFlowEntry) {
	d.mfIndex++
	entry.Index = d.mfIndex
	d.moneys = append(d.moneys, entry)
}

// FormatAddress renders an address the way money flow entries store it: lowercase 0x hex.
func FormatAddress(a common.Address) string {
	return strings.ToLower(a.Hex())
}
