package engine_test

import (
	"context"
	"testing"

	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const edgeCompose = `services:
  redis:
    image: redis:7
    networks: [edge, backend]
networks:
  edge:
    external: true
  backend:
    external: true
`

func TestInitNetworks_CreatesOnlyMissing(t *testing.T) {
	fx := newFixture(t, map[string]string{"cache": edgeCompose})
	fx.fleet.missingNetwork("hostB", "edge")

	results, err := fx.engine.InitNetworks(context.Background(), "hostB", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "edge@hostB", results[0].Label)

	created := fx.fleet.callsWith("network-create")
	require.Len(t, created, 1)
	assert.Equal(t, "hostB", created[0].Host)
	assert.Equal(t, []string{"network", "create", "edge"}, created[0].Cmd.Args)

	results, err = fx.engine.InitNetworks(context.Background(), "hostB", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Len(t, fx.fleet.callsWith("network-create"), 1)
}

func TestInitNetworks_ExplicitNames(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fleet.missingNetwork("hostA", "proxy")

	results, err := fx.engine.InitNetworks(context.Background(), "hostA", []string{"proxy", "proxy", "shared"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "proxy@hostA", results[0].Label)
}

func TestInitNetworks_NothingNeeded(t *testing.T) {
	fx := newFixture(t, nil)

	results, err := fx.engine.InitNetworks(context.Background(), "hostA", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, fx.fleet.totalCalls())
}

func TestInitNetworks_UnknownHost(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.engine.InitNetworks(context.Background(), "hostZ", nil)
	assert.True(t, ferrors.IsNotFoundError(err))
}

func TestInitNetworks_CreateFailureIsReported(t *testing.T) {
	fx := newFixture(t, map[string]string{"cache": edgeCompose})
	fx.fleet.missingNetwork("hostB", "edge")
	fx.fleet.missingNetwork("hostB", "backend")
	fx.fleet.failOn("edge", "network-create", "hostB", 1)

	results, err := fx.engine.InitNetworks(context.Background(), "hostB", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	outcome := map[string]bool{}
	for _, r := range results {
		outcome[r.Label] = r.Success
	}
	assert.Equal(t, map[string]bool{"edge@hostB": false, "backend@hostB": true}, outcome)
}
