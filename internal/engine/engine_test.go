package engine_test

import (
	"context"
	"testing"

	"github.com/compose-farm/compose-farm/internal/engine"
	"github.com/compose-farm/compose-farm/internal/state"
	ferrors "github.com/compose-farm/compose-farm/pkg/errors"
	"github.com/compose-farm/compose-farm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inSync() state.Placements {
	return state.Placements{
		"web":     types.Single("hostA"),
		"cache":   types.Single("hostB"),
		"monitor": types.Multi("hostA", "hostB", "hostC"),
	}
}

func TestApply_InSyncUnitsAreUntouched(t *testing.T) {
	fx := newFixture(t, nil)
	fx.seed(t, inSync())

	report, err := fx.engine.Apply(context.Background(), engine.ApplyOptions{})
	require.NoError(t, err)

	assert.Empty(t, report.Phases)
	assert.False(t, report.Failed())
	assert.Equal(t, 0, fx.fleet.totalCalls())
	assert.ElementsMatch(t, []string{"cache", "monitor", "web"}, report.Plan.InSync)
}

func TestApply_Migration(t *testing.T) {
	fx := newFixture(t, nil)
	placements := inSync()
	placements["web"] = types.Single("hostB")
	fx.seed(t, placements)

	report, err := fx.engine.Apply(context.Background(), engine.ApplyOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"web"}, report.Plan.Migrating)
	assert.Equal(t, []string{"pull@hostA", "build@hostA", "down@hostB", "up@hostA"}, fx.fleet.actions("web"))
	assert.True(t, fx.placements(t)["web"].Equal(types.Single("hostA")))

	require.Len(t, report.Phases, 1)
	assert.Equal(t, engine.PhaseMigrate, report.Phases[0].Name)
	result := report.Phases[0].Results[0]
	assert.True(t, result.Success)
	require.NotNil(t, result.Migration)
	assert.Equal(t, engine.PhaseCompleted, result.Migration.Phase)
	assert.Equal(t, "hostB", result.Migration.Source)
	assert.Equal(t, "hostA", result.Migration.Target)

	// preflight probes only ran on the target
	assert.Equal(t, 1, fx.fleet.countCalls("path-check", "hostA"))
	assert.Equal(t, 0, fx.fleet.countCalls("path-check", "hostB"))
}

func TestStart_MissingMountBlocksUp(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"web": "services:\n  app:\n    image: nginx\n    volumes:\n      - /mnt/data:/data\n      - ./conf:/etc/app:ro\n",
	})
	fx.fleet.missingPath("hostA", "/mnt/data")

	results, err := fx.engine.Start(context.Background(), []string{"web"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.False(t, result.Success)
	assert.True(t, ferrors.IsPreconditionError(result.Err))
	assert.Equal(t, []string{"/mnt/data"}, result.Missing["hostA"].MissingPaths)
	assert.Contains(t, result.Diagnostics(), "missing path: /mnt/data on hostA")
	assert.Empty(t, fx.fleet.actions("web"))
	assert.Empty(t, fx.placements(t))
}

func TestStart_CacheMissingNetwork(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"cache": `services:
  redis:
    image: redis:7
    networks: [edge]
networks:
  edge:
    external: true
`,
	})
	fx.fleet.missingNetwork("hostB", "edge")
	before := inSync()
	delete(before, "cache")
	fx.seed(t, before)

	report, err := fx.engine.Apply(context.Background(), engine.ApplyOptions{})
	require.NoError(t, err)

	assert.True(t, report.Failed())
	results := report.Results()
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Diagnostics(), "missing network: edge on hostB")
	assert.Contains(t, results[0].Diagnostics(), "hint: compose-farm init-network hostB")
	assert.Empty(t, fx.fleet.actions("cache"))
	assert.Equal(t, before, fx.placements(t))
}

func TestApply_StopsOrphan(t *testing.T) {
	fx := newFixture(t, nil)
	placements := inSync()
	placements["legacy"] = types.Single("hostA")
	fx.seed(t, placements)

	report, err := fx.engine.Apply(context.Background(), engine.ApplyOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"legacy"}, report.Plan.Orphaned)
	assert.Equal(t, []string{"down@hostA"}, fx.fleet.actions("legacy"))
	assert.NotContains(t, fx.placements(t), "legacy")
	assert.False(t, report.Failed())
}

func TestApply_NoOrphansKeepsOrphan(t *testing.T) {
	fx := newFixture(t, nil)
	placements := inSync()
	placements["legacy"] = types.Single("hostA")
	fx.seed(t, placements)

	report, err := fx.engine.Apply(context.Background(), engine.ApplyOptions{NoOrphans: true})
	require.NoError(t, err)

	assert.Empty(t, report.Phases)
	assert.Contains(t, fx.placements(t), "legacy")
}

func TestApply_PhaseOrder(t *testing.T) {
	fx := newFixture(t, nil)
	fx.seed(t, state.Placements{
		"legacy":  types.Single("hostC"),
		"web":     types.Single("hostB"),
		"monitor": types.Multi("hostA", "hostB", "hostC"),
	})

	report, err := fx.engine.Apply(context.Background(), engine.ApplyOptions{})
	require.NoError(t, err)

	var names []string
	for _, p := range report.Phases {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{engine.PhaseOrphaned, engine.PhaseMigrate, engine.PhaseMissing}, names)
	assert.Equal(t, []string{
		"legacy:down@hostC",
		"web:pull@hostA", "web:build@hostA", "web:down@hostB", "web:up@hostA",
		"cache:up@hostB",
	}, fx.fleet.allActions())
}

func TestApply_FailuresDoNotBlockLaterPhases(t *testing.T) {
	fx := newFixture(t, nil)
	fx.seed(t, state.Placements{
		"web":     types.Single("hostB"),
		"monitor": types.Multi("hostA", "hostB", "hostC"),
	})
	fx.fleet.failOn("web", "pull", "hostA", 1)

	report, err := fx.engine.Apply(context.Background(), engine.ApplyOptions{})
	require.NoError(t, err)

	assert.True(t, report.Failed())
	assert.Equal(t, []string{"up@hostB"}, fx.fleet.actions("cache"))
	assert.Equal(t, "1/2 succeeded", engine.Summarize(report.Results()))
	assert.True(t, fx.placements(t)["web"].Equal(types.Single("hostB")))
}

func TestApply_Twice(t *testing.T) {
	fx := newFixture(t, nil)

	first, err := fx.engine.Apply(context.Background(), engine.ApplyOptions{})
	require.NoError(t, err)
	require.False(t, first.Failed())
	assert.Equal(t, inSync(), fx.placements(t))

	calls := fx.fleet.totalCalls()
	second, err := fx.engine.Apply(context.Background(), engine.ApplyOptions{})
	require.NoError(t, err)

	assert.Empty(t, second.Phases)
	assert.Equal(t, calls, fx.fleet.totalCalls())
}

func TestApply_DryRun(t *testing.T) {
	fx := newFixture(t, nil)
	placements := state.Placements{
		"web":    types.Single("hostB"),
		"legacy": types.Single("hostA"),
	}
	fx.seed(t, placements)

	report, err := fx.engine.Apply(context.Background(), engine.ApplyOptions{DryRun: true})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.False(t, report.Failed())
	assert.Equal(t, []string{"legacy"}, report.Plan.Orphaned)
	assert.Equal(t, []string{"web"}, report.Plan.Migrating)
	assert.Equal(t, []string{"cache", "monitor"}, report.Plan.Missing)
	assert.Equal(t, 4, report.Plan.Actions(engine.ApplyOptions{}))
	assert.Equal(t, 0, fx.fleet.totalCalls())
	assert.Equal(t, placements, fx.placements(t))
}

func TestApply_FullRefreshesInSyncUnits(t *testing.T) {
	fx := newFixture(t, nil)
	fx.seed(t, inSync())

	report, err := fx.engine.Apply(context.Background(), engine.ApplyOptions{Full: true})
	require.NoError(t, err)

	require.Len(t, report.Phases, 1)
	assert.Equal(t, engine.PhaseRefresh, report.Phases[0].Name)
	assert.Equal(t, []string{"up@hostA"}, fx.fleet.actions("web"))
	assert.ElementsMatch(t, []string{"up@hostA", "up@hostB", "up@hostC"}, fx.fleet.actions("monitor"))
}

func TestApply_InterruptionStopsRemainingPhases(t *testing.T) {
	fx := newFixture(t, nil)
	fx.seed(t, state.Placements{"legacy": types.Single("hostA")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.fleet.onCall = func(c call) {
		if c.Unit == "legacy" && c.Verb == "down" {
			cancel()
		}
	}

	report, err := fx.engine.Apply(ctx, engine.ApplyOptions{})
	require.NoError(t, err)

	assert.True(t, report.Interrupted)
	assert.True(t, report.Failed())
	require.Len(t, report.Phases, 1)
	assert.True(t, report.Phases[0].Results[0].Interrupted)
	assert.Empty(t, fx.fleet.actions("web"))
	assert.Contains(t, fx.placements(t), "legacy")
}

func TestMultiHost_PartialStart(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fleet.failOn("monitor", "up", "hostB", 1)

	results, err := fx.engine.Start(context.Background(), []string{"monitor"})
	require.NoError(t, err)

	result := results[0]
	assert.False(t, result.Success)
	assert.True(t, ferrors.IsPartialError(result.Err))
	assert.True(t, fx.placements(t)["monitor"].Equal(types.Multi("hostA", "hostC")))

	labels := map[string]bool{}
	for _, c := range result.Commands {
		labels[c.Label] = true
	}
	assert.Equal(t, map[string]bool{"monitor@hostA": true, "monitor@hostB": true, "monitor@hostC": true}, labels)
}

func TestMultiHost_NothingRecordedWhenAllFail(t *testing.T) {
	fx := newFixture(t, nil)
	for _, h := range []string{"hostA", "hostB", "hostC"} {
		fx.fleet.failOn("monitor", "up", h, 1)
	}

	results, err := fx.engine.Start(context.Background(), []string{"monitor"})
	require.NoError(t, err)

	assert.False(t, results[0].Success)
	assert.NotContains(t, fx.placements(t), "monitor")
}

func TestMultiHost_PreflightIsAllOrNothing(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"monitor": "services:\n  agent:\n    image: node-exporter\n    volumes:\n      - /proc:/host/proc:ro\n",
	})
	fx.fleet.missingPath("hostC", "/proc")

	results, err := fx.engine.Start(context.Background(), []string{"monitor"})
	require.NoError(t, err)

	assert.False(t, results[0].Success)
	assert.Empty(t, fx.fleet.actions("monitor"))
	assert.Contains(t, results[0].Diagnostics(), "missing path: /proc on hostC")
	assert.Empty(t, fx.placements(t))
}

func TestPlan_DegradedMultiHostIsMissing(t *testing.T) {
	fx := newFixture(t, nil)
	placements := inSync()
	placements["monitor"] = types.Multi("hostA", "hostC")
	fx.seed(t, placements)

	plan, err := fx.engine.Plan()
	require.NoError(t, err)

	assert.Equal(t, []string{"monitor"}, plan.Missing)
	assert.Empty(t, plan.Migrating)
	assert.Equal(t, []string{"cache", "web"}, plan.InSync)
}

func TestPreflight_BatchesPathsIntoOneCall(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"web": `services:
  app:
    image: nginx
    volumes:
      - /mnt/a:/a
      - /mnt/b:/b
      - type: bind
        source: /mnt/c
        target: /c
      - named:/d
    devices:
      - /dev/dri:/dev/dri
volumes:
  named: {}
`,
	})
	fx.fleet.missingPath("hostA", "/mnt/b")
	fx.fleet.missingPath("hostA", "/dev/dri")

	report, err := fx.engine.Preflight(context.Background(), "web", "hostA")
	require.NoError(t, err)

	assert.Equal(t, []string{"/mnt/b"}, report.MissingPaths)
	assert.Equal(t, []string{"/dev/dri"}, report.MissingDevices)
	assert.Empty(t, report.MissingNetworks)
	// one for mounts, one for devices, none for networks
	assert.Equal(t, 2, fx.fleet.countCalls("path-check", "hostA"))
	assert.Equal(t, 0, fx.fleet.countCalls("network-check", ""))
}

func TestPreflight_UnreachableHost(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fleet.unreachable["hostA"] = true

	_, err := fx.engine.Preflight(context.Background(), "web", "hostA")
	require.Error(t, err)
	assert.True(t, ferrors.IsTransportError(err))

	results, err := fx.engine.Start(context.Background(), []string{"web"})
	require.NoError(t, err)
	assert.False(t, results[0].Success)
	assert.Empty(t, fx.fleet.actions("web"))
}

func TestCheckCompatibility(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"web": "services:\n  app:\n    image: nginx\n    volumes:\n      - /mnt/data:/data\n",
	})
	fx.fleet.missingPath("hostB", "/mnt/data")
	fx.fleet.unreachable["hostC"] = true

	report, err := fx.engine.CheckCompatibility(context.Background(), "web")
	require.NoError(t, err)
	require.Len(t, report, 3)

	assert.Equal(t, "hostA", report[0].Host)
	assert.True(t, report[0].Compatible())
	assert.Equal(t, 2, report[0].Found)
	assert.Equal(t, 2, report[0].Total)

	assert.Equal(t, 1, report[1].Found)
	assert.Equal(t, []string{"missing path: /mnt/data"}, report[1].Missing)

	assert.Error(t, report[2].Err)
	assert.False(t, report[2].Compatible())

	_, err = fx.engine.CheckCompatibility(context.Background(), "nope")
	assert.True(t, ferrors.IsNotFoundError(err))
}

func TestListUnits(t *testing.T) {
	fx := newFixture(t, nil)
	fx.seed(t, state.Placements{
		"web":    types.Single("hostA"),
		"cache":  types.Single("hostA"),
		"legacy": types.Single("hostB"),
	})

	units, err := fx.engine.ListUnits()
	require.NoError(t, err)

	var names []string
	for _, u := range units {
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"cache", "legacy", "monitor", "web"}, names)
	assert.False(t, units[0].InSync())
	assert.True(t, units[1].Orphaned)
	assert.True(t, units[2].MultiHost)
	assert.True(t, units[3].InSync())

	onB, err := fx.engine.UnitsOnHost("hostB")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache", "legacy", "monitor"}, onB)
}

func TestApply_PanickingUnitKeepsPhaseAction(t *testing.T) {
	fx := newFixture(t, nil)
	fx.seed(t, state.Placements{"web": types.Single("hostB")})
	fx.fleet.onCall = func(c call) {
		if c.Unit == "web" && c.Verb == "pull" {
			panic("registry exploded")
		}
	}

	report, err := fx.engine.Apply(context.Background(), engine.ApplyOptions{})
	require.NoError(t, err)

	require.NotEmpty(t, report.Phases)
	migrate := report.Phases[0]
	require.Equal(t, engine.PhaseMigrate, migrate.Name)
	require.Len(t, migrate.Results, 1)
	assert.Equal(t, engine.ActionMigrate, migrate.Results[0].Action)
	assert.EqualError(t, migrate.Results[0].Err, "migrate of web aborted unexpectedly")
	assert.True(t, report.Failed())
	assert.True(t, fx.placements(t)["web"].Equal(types.Single("hostB")))
}
