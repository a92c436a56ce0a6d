// Package idgen issues entity ids (uuid) and human-readable numbers (snowflake).
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// Generator is safe for concurrent use.
type Generator struct {
	node *snowflake.Node
}

// New returns a generator for the given snowflake node (0-1023). Each running
// replica needs its own node number.
func New(node int64) (*Generator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("invalid snowflake node %d: %w", node, err)
	}
	return &Generator{node: n}, nil
}

// MustNew is New for tests and wiring code with a constant node.
func MustNew(node int64) *Generator {
	g, err := New(node)
	if err != nil {
		panic(err)
	}
	return g
}

// ID returns a random entity id.
func (g *Generator) ID() string {
	return uuid.NewString()
}

// RequestNo returns a refund request number such as "RR1788465123456789".
func (g *Generator) RequestNo() string {
	return "RR" + g.node.Generate().String()
}

// CaseNo returns an arbitration case number such as "AC1788465123456789".
func (g *Generator) CaseNo() string {
	return "AC" + g.node.Generate().String()
}
