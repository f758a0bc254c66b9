package tracing

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// NormalizedMoneyFlow is a money flow entry with ERC-1155 id/value pairs split apart,
// so that every row carries a decimal amount.
type NormalizedMoneyFlow struct {
	Index     int       `json:"index"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Token     string    `json:"token"`
	Amount    string    `json:"amount"`
	TokenID   string    `json:"tokenId"`
	CallStack CallStack `json:"callStack"`
}

// Normalize converts decoded entries into downstream rows.
func Normalize(entries []MoneyFlowEntry) ([]NormalizedMoneyFlow, error) {
	out := make([]NormalizedMoneyFlow, 0, len(entries))
	for _, e := range entries {
		row := NormalizedMoneyFlow{
			Index:     e.Index,
			From:      e.From,
			To:        e.To,
			Token:     e.Token,
			Amount:    e.Amount,
			TokenID:   e.TokenID,
			CallStack: e.CallStack,
		}
		if e.Amount == "" {
			id, amount, err := splitIDValue(e.TokenID)
			if err != nil {
				return nil, fmt.Errorf("money flow %d: %w", e.Index, err)
			}
			row.TokenID, row.Amount = id, amount
		}
		out = append(out, row)
	}
	return out, nil
}

// splitIDValue splits "0x" + id word + value word.
func splitIDValue(tokenID string) (string, string, error) {
	raw, err := hexutil.Decode(tokenID)
	if err != nil {
		return "", "", fmt.Errorf("invalid id/value pair %q: %w", tokenID, err)
	}
	if len(raw) != 2*wordSize {
		return "", "", fmt.Errorf("id/value pair has %d bytes", len(raw))
	}
	id := new(uint256.Int).SetBytes32(raw[:wordSize])
	value := new(uint256.Int).SetBytes32(raw[wordSize:])
	return id.Hex(), value.Dec(), nil
}
