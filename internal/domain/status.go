package domain

import (
	"errors"
	"fmt"
)

// TradeStatus is the lifecycle state of a trade record.
type TradeStatus string

const (
	StatusPending   TradeStatus = "PENDING"
	StatusExecuted  TradeStatus = "EXECUTED"
	StatusClosed    TradeStatus = "CLOSED"
	StatusCancelled TradeStatus = "CANCELLED"
)

var ErrInvalidTransition = errors.New("invalid trade status transition")

var allowedTransitions = map[TradeStatus][]TradeStatus{
	StatusPending:  {StatusExecuted, StatusCancelled},
	StatusExecuted: {StatusClosed},
}

// IsTerminal reports whether no further transition is possible.
func (s TradeStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the trade to next, rejecting illegal steps.
func (t *Trade) Transition(next TradeStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s (ticket %s)", ErrInvalidTransition, t.Status, next, t.Ticket)
	}
	t.Status = next
	return nil
}
