package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_String(t *testing.T) {
	assert.Equal(t, "run", KindRun.String())
	assert.Equal(t, "build_depmap", KindBuildDepmap.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestAction_RunShape(t *testing.T) {
	a := Action{
		Kind:         KindRun,
		Cacheability: Global,
		Run: &RunPayload{
			Args: []Arg{{Kind: ArgLiteral, Literal: "--flag"}},
		},
	}
	assert.Equal(t, KindRun, a.Kind)
	assert.Equal(t, Global, a.Cacheability)
	assert.Len(t, a.Run.Args, 1)
}
