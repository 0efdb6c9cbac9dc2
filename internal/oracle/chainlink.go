// Package oracle implements domain.PriceSource against Chainlink-style
// aggregator contracts, plus a Redis-backed caching layer.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mauricedesaxe/betme/internal/domain"
)

// aggregatorABI is the read surface of the Chainlink AggregatorV3Interface
// that the client needs.
const aggregatorABI = `[
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"internalType":"uint80","name":"roundId","type":"uint80"},
		{"internalType":"int256","name":"answer","type":"int256"},
		{"internalType":"uint256","name":"startedAt","type":"uint256"},
		{"internalType":"uint256","name":"updatedAt","type":"uint256"},
		{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],
	 "stateMutability":"view","type":"function"}
]`

// ChainlinkClient reads latestRoundData from aggregator contracts over an
// Ethereum JSON-RPC endpoint.
type ChainlinkClient struct {
	eth *ethclient.Client
	abi abi.ABI
}

// NewChainlinkClient dials the given RPC URL and prepares the aggregator ABI.
func NewChainlinkClient(ctx context.Context, rpcURL string) (*ChainlinkClient, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("oracle: parse aggregator abi: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("oracle: dial %s: %w", rpcURL, err)
	}

	return &ChainlinkClient{eth: eth, abi: parsed}, nil
}

// Close releases the underlying RPC connection.
func (c *ChainlinkClient) Close() {
	c.eth.Close()
}

// LatestQuote calls latestRoundData on the aggregator at feed and returns
// the answer and its update time. Non-positive answers and zero update times
// are rejected: a feed that has never reported is treated as unavailable,
// not as a zero price.
func (c *ChainlinkClient) LatestQuote(ctx context.Context, feed common.Address) (domain.Quote, error) {
	data, err := c.abi.Pack("latestRoundData")
	if err != nil {
		return domain.Quote{}, fmt.Errorf("oracle: pack latestRoundData: %w", err)
	}

	res, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("oracle: call %s: %w", feed.Hex(), err)
	}

	out, err := c.abi.Unpack("latestRoundData", res)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("oracle: unpack latestRoundData from %s: %w", feed.Hex(), err)
	}
	if len(out) != 5 {
		return domain.Quote{}, fmt.Errorf("oracle: latestRoundData from %s returned %d values", feed.Hex(), len(out))
	}

	answer, ok := out[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return domain.Quote{}, fmt.Errorf("oracle: feed %s reported non-positive answer", feed.Hex())
	}
	updatedAt, ok := out[3].(*big.Int)
	if !ok || updatedAt.Sign() <= 0 {
		return domain.Quote{}, fmt.Errorf("oracle: feed %s reported no update time", feed.Hex())
	}

	return domain.Quote{
		Price:     answer,
		Timestamp: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceSource = (*ChainlinkClient)(nil)
