package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDAG_DetectsCycle(t *testing.T) {
	nodes := []Node{
		{ID: "a", Requires: []string{"b"}},
		{ID: "b", Requires: []string{"a"}},
	}
	err := ValidateDAG(nodes)
	require.Error(t, err)
}

func TestValidateDAG_AcceptsAcyclic(t *testing.T) {
	nodes := []Node{
		{ID: "a", Requires: []string{"b"}},
		{ID: "b", Requires: nil},
	}
	assert.NoError(t, ValidateDAG(nodes))
}

func TestExecutionOrder_RespectsDependencies(t *testing.T) {
	nodes := []Node{
		{ID: "c", Requires: []string{"b"}},
		{ID: "b", Requires: []string{"a"}},
		{ID: "a", Requires: nil},
	}
	order, err := ExecutionOrder(nodes)
	require.NoError(t, err)
	pos := map[string]int{}
	for i, n := range order {
		pos[n.ID] = i
	}
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["b"], pos["c"])
}

func TestExecutionOrder_ErrorsOnCycle(t *testing.T) {
	nodes := []Node{
		{ID: "a", Requires: []string{"b"}},
		{ID: "b", Requires: []string{"a"}},
	}
	_, err := ExecutionOrder(nodes)
	require.Error(t, err)
}
