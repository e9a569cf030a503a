// Package game holds the wager outcome engines. Stakes are escrowed through
// the ledger: debited when a player enters, the winner credited double.
package game

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"flipbot/internal/store"
)

// Policy tunes the house edge. The zero value plays a fair 50/50 coin.
type Policy struct {
	// ForcedLossRatio forces the house side when the stake exceeds this
	// share of the initiator's remaining balance. Zero disables it.
	ForcedLossRatio float64
	// WinDecay lowers the initiator's win probability by this much after
	// each win, down to MinWinProbability.
	WinDecay          float64
	MinWinProbability float64
}

// DefaultPolicy reproduces the historical odds: forced loss above 80% of
// balance, −0.10 win probability per win, floored at 0.10.
func DefaultPolicy() Policy {
	return Policy{ForcedLossRatio: 0.8, WinDecay: 0.1, MinWinProbability: 0.1}
}

// Sides of the coin.
const (
	Heads = "heads"
	Tails = "tails"
)

var errBadSide = errors.New("side must be heads or tails")

func opposite(side string) string {
	if side == Heads {
		return Tails
	}
	return Heads
}

// Flip is one coinflip game.
type Flip struct {
	Number    int64
	Initiator string
	Opponent  string
	Stake     decimal.Decimal
	Side      string
	StartedAt int64

	// set when resolved
	Result string
	Winner string
}

// Engine runs coinflip games against the ledger.
type Engine struct {
	mu       sync.Mutex
	ledger   *store.Ledger
	counters *store.Counters
	policy   Policy
	rng      *rand.Rand
	log      *slog.Logger
	winProb  map[string]float64
	open     map[int64]*Flip
}

// NewEngine wires a coinflip engine. seed fixes the rng for tests; pass 0
// for a time-based seed.
func NewEngine(ledger *store.Ledger, counters *store.Counters, policy Policy, seed int64, log *slog.Logger) *Engine {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Engine{
		ledger:   ledger,
		counters: counters,
		policy:   policy,
		rng:      rand.New(rand.NewSource(seed)),
		log:      log.With(slog.String("component", "coinflip")),
		winProb:  make(map[string]float64),
		open:     make(map[int64]*Flip),
	}
}

// Start opens a game and escrows the initiator's stake.
func (e *Engine) Start(userID string, stake decimal.Decimal, side string) (*Flip, error) {
	if side != Heads && side != Tails {
		return nil, errBadSide
	}
	if !stake.IsPositive() {
		return nil, fmt.Errorf("stake must be positive")
	}
	if err := e.ledger.Debit(userID, stake); err != nil {
		return nil, err
	}
	number, err := e.counters.Next("coinflip")
	if err != nil {
		// The stake is already escrowed; give it back rather than strand it.
		if rerr := e.ledger.Credit(userID, stake); rerr != nil {
			e.log.Error("refund after counter failure", "user", userID, "error", rerr)
		}
		return nil, err
	}

	flip := &Flip{
		Number:    number,
		Initiator: userID,
		Stake:     stake,
		Side:      side,
		StartedAt: time.Now().Unix(),
	}
	e.mu.Lock()
	e.open[number] = flip
	e.mu.Unlock()
	return flip, nil
}

// Join escrows an opponent's stake and resolves the game.
func (e *Engine) Join(number int64, userID string) (*Flip, error) {
	e.mu.Lock()
	flip, ok := e.open[number]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("coinflip #%d is not open", number)
	}
	if userID == flip.Initiator {
		return nil, fmt.Errorf("cannot join your own game")
	}
	if err := e.ledger.Debit(userID, flip.Stake); err != nil {
		return nil, err
	}
	flip.Opponent = userID
	return e.resolve(flip)
}

// houseOpponent is the opponent id used when the initiator plays the house.
const houseOpponent = "house"

// PlayHouse resolves an open game against the house bot.
func (e *Engine) PlayHouse(number int64) (*Flip, error) {
	e.mu.Lock()
	flip, ok := e.open[number]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("coinflip #%d is not open", number)
	}
	flip.Opponent = houseOpponent
	return e.resolve(flip)
}

// Cancel refunds the initiator's stake on an unresolved game.
func (e *Engine) Cancel(number int64, userID string) error {
	e.mu.Lock()
	flip, ok := e.open[number]
	if ok && flip.Initiator != userID {
		e.mu.Unlock()
		return fmt.Errorf("only the initiator can cancel")
	}
	delete(e.open, number)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("coinflip #%d is not open", number)
	}
	return e.ledger.Credit(userID, flip.Stake)
}

func (e *Engine) resolve(flip *Flip) (*Flip, error) {
	balance, err := e.ledger.Balance(flip.Initiator)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	flip.Result = e.outcome(flip, balance)
	delete(e.open, flip.Number)
	e.mu.Unlock()

	flip.Winner = flip.Opponent
	if flip.Result == flip.Side {
		flip.Winner = flip.Initiator
	}
	if flip.Winner != houseOpponent {
		if err := e.ledger.Credit(flip.Winner, flip.Stake.Mul(decimal.NewFromInt(2))); err != nil {
			return nil, fmt.Errorf("pay out coinflip #%d: %w", flip.Number, err)
		}
	}
	e.log.Info("coinflip resolved", "number", flip.Number, "result", flip.Result, "winner", flip.Winner)
	return flip, nil
}

// outcome applies the odds policy. Caller holds the mutex.
func (e *Engine) outcome(flip *Flip, balance decimal.Decimal) string {
	if e.policy.ForcedLossRatio > 0 {
		threshold := decimal.NewFromFloat(e.policy.ForcedLossRatio).Mul(balance)
		if flip.Stake.GreaterThan(threshold) {
			return opposite(flip.Side)
		}
	}

	prob, ok := e.winProb[flip.Initiator]
	if !ok {
		prob = 0.5
	}
	if e.rng.Float64() < prob {
		if e.policy.WinDecay > 0 {
			prob -= e.policy.WinDecay
			if prob < e.policy.MinWinProbability {
				prob = e.policy.MinWinProbability
			}
			e.winProb[flip.Initiator] = prob
		}
		return flip.Side
	}
	return opposite(flip.Side)
}
