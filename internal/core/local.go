package core

import "context"

// LocalNode hosts a single-process game. Nothing attaches connections to
// it, so every message stays between local participants.
type LocalNode struct {
	*PrimaryNode
}

func NewLocalNode(ctx context.Context, opts Options) (*LocalNode, error) {
	p, err := NewPrimaryNode(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &LocalNode{PrimaryNode: p}, nil
}
