package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BetEventType enumerates the entries of a bet's append-only event log.
type BetEventType string

const (
	EventCreated  BetEventType = "created"
	EventDeposit  BetEventType = "deposit"
	EventLocked   BetEventType = "locked"
	EventWinner   BetEventType = "winner"
	EventWithdraw BetEventType = "withdraw"
	EventResolved BetEventType = "resolved"
)

// BetEvent is one entry in a bet's event log. Seq is assigned by the store
// and is strictly increasing per bet.
type BetEvent struct {
	BetID     string         `json:"bet_id"`
	Seq       int            `json:"seq"`
	Type      BetEventType   `json:"type"`
	Actor     common.Address `json:"actor"`
	AmountWei *big.Int       `json:"amount_wei,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
