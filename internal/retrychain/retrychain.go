// Package retrychain implements spec.md §9 Design Notes' "retry-chain
// discipline": every downloadable/uploadable operation carries a
// tree-structured, budgeted retry context whose parent-child
// relationships mirror the call stack, so backoff stays bounded no
// matter how deeply operations nest (an upload during housekeeping
// during retention during leadership startup all share one inherited
// deadline). A child also copies its parent's attempt limit, but Do
// counts attempts per call and never deducts them from the node, so
// each nested Do may make up to that many attempts before the shared
// deadline.
//
// The teacher has no direct equivalent of this idiom, so the tree shape
// itself is original Go; the retry/backoff/circuit-breaking primitives
// it's built from are drawn from the pack's dependency set rather than
// hand-rolled.
package retrychain

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrBudgetExhausted is returned once a node's attempt budget or deadline
// is used up without a successful call.
var ErrBudgetExhausted = errors.New("retrychain: retry budget exhausted")

// Config seeds a root node's budget.
type Config struct {
	// MaxAttempts bounds how many times Do will call its function before
	// giving up.
	MaxAttempts int
	// Deadline is the absolute point in time by which a call chain rooted
	// at this node must finish.
	Deadline time.Time
}

// Node is one point in a retry-budget tree. The zero value is not usable;
// construct one with Root, and derive children with Child.
type Node struct {
	parent       *Node
	deadline     time.Time
	attemptsLeft int
}

// Root starts a new retry-budget tree from cfg.
func Root(cfg Config) *Node {
	return &Node{deadline: cfg.Deadline, attemptsLeft: cfg.MaxAttempts}
}

// Child derives a child node inheriting this node's remaining deadline
// and attempt budget, per spec.md §9's "budget ... is inherited from the
// parent". The child's own attempts are tracked independently of the
// parent's once derived, since the parent may make further calls of its
// own after spawning the child.
func (n *Node) Child() *Node {
	return &Node{parent: n, deadline: n.deadline, attemptsLeft: n.attemptsLeft}
}

// Deadline returns the absolute time this node's call chain must finish
// by.
func (n *Node) Deadline() time.Time { return n.deadline }

// Context derives a context bound to parent that also expires at n's
// deadline.
func (n *Node) Context(parent context.Context) (context.Context, context.CancelFunc) {
	if n.deadline.IsZero() {
		return context.WithCancel(parent)
	}
	return context.WithDeadline(parent, n.deadline)
}

// Do calls fn, retrying with limiter-paced backoff between attempts,
// until fn succeeds, n's budget is exhausted, or ctx is done. backoff may
// be nil to retry with no pacing between attempts (immediate retry).
func (n *Node) Do(ctx context.Context, backoff *rate.Limiter, fn func(ctx context.Context) error) error {
	cctx, cancel := n.Context(ctx)
	defer cancel()

	var lastErr error
	for attempt := 0; n.attemptsLeft < 0 || attempt < n.attemptsLeft; attempt++ {
		if attempt > 0 && backoff != nil {
			if err := backoff.Wait(cctx); err != nil {
				return errWithLast(ErrBudgetExhausted, lastErr)
			}
		}

		if err := cctx.Err(); err != nil {
			return errWithLast(ErrBudgetExhausted, lastErr)
		}

		lastErr = fn(cctx)
		if lastErr == nil {
			return nil
		}
	}
	return errWithLast(ErrBudgetExhausted, lastErr)
}

func errWithLast(sentinel, last error) error {
	if last == nil {
		return sentinel
	}
	return errors.Join(sentinel, last)
}
