package node

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/DQYXACML/flowtrace/common/bigint"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

var (
	ErrHeaderTraversalAheadOfProvider            = errors.New("the HeaderTraversal's internal state is ahead of the provider")
	ErrHeaderTraversalAndProviderMismatchedState = errors.New("the HeaderTraversal and provider have diverged in state")
)

// HeaderTraversal walks confirmed headers in order, one bounded batch at a time.
type HeaderTraversal struct {
	ethClient EthClient
	chainId   uint

	latestHeader        *types.Header
	lastTraversedHeader *types.Header

	blockConfirmationDepth *big.Int
}

// NewHeaderTraversal starts after fromHeader, or at genesis when fromHeader is nil.
func NewHeaderTraversal(ethClient EthClient, fromHeader *types.Header, blockConfirmationDepth *big.Int, chainId uint) *HeaderTraversal {
	return &HeaderTraversal{
		ethClient:              ethClient,
		chainId:                chainId,
		blockConfirmationDepth: blockConfirmationDepth,
		lastTraversedHeader:    fromHeader,
	}
}

func (f *HeaderTraversal) LatestHeader() *types.Header {
	return f.latestHeader
}

func (f *HeaderTraversal) LastTraversedHeader() *types.Header {
	return f.lastTraversedHeader
}

// NextHeaders returns up to maxSize headers following the last traversed one that are
// at least blockConfirmationDepth blocks below the chain head.
func (f *HeaderTraversal) NextHeaders(maxSize uint64) ([]types.Header, error) {
	latestHeader, err := f.ethClient.BlockHeaderByNumber(nil)
	if err != nil {
		return nil, fmt.Errorf("unable to query latest block: %w", err)
	} else if latestHeader == nil {
		return nil, fmt.Errorf("latest header unreported")
	} else {
		f.latestHeader = latestHeader
	}

	endHeight := new(big.Int).Sub(latestHeader.Number, f.blockConfirmationDepth)
	if endHeight.Sign() < 0 {
		return nil, nil
	}

	if f.lastTraversedHeader != nil {
		cmp := f.lastTraversedHeader.Number.Cmp(endHeight)
		if cmp == 0 {
			return nil, nil
		} else if cmp > 0 {
			return nil, ErrHeaderTraversalAheadOfProvider
		}
	}

	nextHeight := bigint.Zero
	if f.lastTraversedHeader != nil {
		nextHeight = new(big.Int).Add(f.lastTraversedHeader.Number, bigint.One)
	}

	endHeight = bigint.Clamp(nextHeight, endHeight, maxSize)
	headers, err := f.ethClient.BlockHeadersByRange(nextHeight, endHeight, f.chainId)
	if err != nil {
		return nil, fmt.Errorf("error querying blocks by range: %w", err)
	}

	numHeaders := len(headers)
	if numHeaders == 0 {
		return nil, nil
	} else if f.lastTraversedHeader != nil && headers[0].ParentHash != f.lastTraversedHeader.Hash() {
		log.Warn("Header batch does not extend the traversed chain", "expectedParent", f.lastTraversedHeader.Hash(),
			"parent", headers[0].ParentHash, "number", headers[0].Number)
		return nil, ErrHeaderTraversalAndProviderMismatchedState
	}
	log.Debug("Traversed headers", "from", nextHeight, "to", headers[numHeaders-1].Number, "head", latestHeader.Number)
	f.lastTraversedHeader = &headers[numHeaders-1]
	return headers, nil
}
