package engine

import (
	"testing"

	"idleforge.dev/internal/sim/content"
	"idleforge.dev/internal/telemetry"
)

func fptr(v float64) *float64 { return &v }

func constExpr(v float64) *content.Expr {
	return &content.Expr{Op: content.OpConst, Value: v}
}

// testPack is a small economy exercising every definition type: a capped
// resource, a locked one with an unlock condition, a producing generator, a
// consuming generator, an interval automation, an upgrade and a transform.
func testPack() *content.Pack {
	p := &content.Pack{
		ID:      "test",
		Version: "1",
		Resources: []content.ResourceDefinition{
			{ID: "gold", StartAmount: 100, Unlocked: true, Visible: true},
			{ID: "wood", StartAmount: 0, Capacity: fptr(50), Unlocked: true, Visible: true},
			{
				ID: "gems", StartAmount: 0,
				UnlockWhen: &content.Condition{
					Op:    content.CondGE,
					Left:  &content.Expr{Op: content.OpVar, Name: "res.gold"},
					Right: constExpr(1000),
				},
			},
		},
		Generators: []content.GeneratorDefinition{
			{
				ID:         "chopper",
				StartOwned: 1,
				Produces:   []content.Yield{{Resource: "wood", Rate: constExpr(2)}},
				Cost:       []content.CostEntry{{Resource: "gold", Amount: constExpr(10)}},
			},
			{
				ID:       "burner",
				Produces: []content.Yield{{Resource: "gold", Rate: constExpr(1)}},
				Consumes: []content.Yield{{Resource: "wood", Rate: constExpr(5)}},
				Cost:     []content.CostEntry{{Resource: "gold", Amount: constExpr(50)}},
				MaxOwned: 3,
			},
		},
		Automations: []content.AutomationDefinition{
			{
				ID:             "auto_chop",
				Trigger:        content.TriggerSpec{Kind: content.TriggerInterval, EveryTicks: 5},
				CommandType:    CmdPurchaseGenerator,
				CommandPayload: map[string]any{"generator": "chopper", "count": 1},
				StartEnabled:   false,
			},
		},
		Upgrades: []content.UpgradeDefinition{
			{
				ID:      "sharp_axes",
				Cost:    []content.CostEntry{{Resource: "gold", Amount: constExpr(30)}},
				Effects: []content.UpgradeEffect{{Kind: content.EffectMultiplyRate, Target: "chopper", Value: 2}},
			},
		},
		Transforms: []content.TransformDefinition{
			{
				ID:      "refine",
				Inputs:  map[string]float64{"wood": 10},
				Outputs: map[string]float64{"gold": 3},
			},
		},
	}
	p.Digest = content.ComputeDigest([]string{"gold", "wood", "gems"})
	return p
}

func newTestRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	rt, err := NewRuntime(cfg, testPack(), telemetry.Nop{})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	return rt
}
