package workflow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflowhq/stepflow/pkg/workflow"
)

func sampleWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		Name:      "troubleshoot_lukewarm_water",
		Title:     "Fix Lukewarm Water",
		StartStep: "step_01_thermostat",
		Steps: map[string]workflow.Step{
			"step_01_thermostat": {
				ID:   "step_01_thermostat",
				Type: workflow.StepAskChoice,
				Goal: "determine whether the thermostat is set correctly",
				Options: []workflow.Option{
					{ID: "was_low", Label: "Thermostat was set too low", NextStepID: "end_success_thermostat"},
					{ID: "was_fine", Label: "Thermostat was already correct", NextStepID: "step_04_sediment"},
				},
			},
			"step_04_sediment": {
				ID:       "step_04_sediment",
				Type:     workflow.StepInstruction,
				Goal:     "flush sediment from the tank",
				NextStep: "end_success_thermostat",
				SuggestedLinks: []workflow.WorkflowLink{
					{TargetWorkflowID: "drain_water_heater", Title: "How to drain a water heater", Rationale: "needed before flushing"},
				},
			},
			"end_success_thermostat": {
				ID:   "end_success_thermostat",
				Type: workflow.StepEnd,
				Goal: "lukewarm water issue resolved",
			},
		},
	}
}

func drainWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		Name:      "drain_water_heater",
		Title:     "Drain a water heater",
		StartStep: "drain_step_01_power_off",
		Steps: map[string]workflow.Step{
			"drain_step_01_power_off": {
				ID:       "drain_step_01_power_off",
				Type:     workflow.StepInstruction,
				Goal:     "shut off power to the heater",
				Warning:  "turn off the breaker before touching any wiring",
				NextStep: "drain_end_success",
			},
			"drain_end_success": {
				ID:   "drain_end_success",
				Type: workflow.StepEnd,
				Goal: "water heater drained",
			},
		},
	}
}

func TestWorkflowValidate_OK(t *testing.T) {
	w := sampleWorkflow()
	require.NoError(t, w.Validate())
}

func TestWorkflowValidate_MissingStartStep(t *testing.T) {
	w := sampleWorkflow()
	w.StartStep = "does_not_exist"
	require.Error(t, w.Validate())
}

func TestWorkflowValidate_DanglingNextStep(t *testing.T) {
	w := sampleWorkflow()
	step := w.Steps["step_04_sediment"]
	step.NextStep = "ghost_step"
	w.Steps["step_04_sediment"] = step
	require.Error(t, w.Validate())
}

func TestWorkflowValidate_DanglingOption(t *testing.T) {
	w := sampleWorkflow()
	step := w.Steps["step_01_thermostat"]
	step.Options[0].NextStepID = "ghost_step"
	w.Steps["step_01_thermostat"] = step
	require.Error(t, w.Validate())
}

func TestMemoryStore_GetExists(t *testing.T) {
	store := workflow.NewMemoryStore(sampleWorkflow(), drainWorkflow())

	assert.True(t, store.Exists("troubleshoot_lukewarm_water"))
	assert.False(t, store.Exists("nope"))

	w, err := store.Get("drain_water_heater")
	require.NoError(t, err)
	assert.Equal(t, "drain_step_01_power_off", w.StartStep)

	_, err = store.Get("nope")
	require.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	lukewarmYAML := `
name: troubleshoot_lukewarm_water
title: Fix Lukewarm Water
start_step: step_01_thermostat
steps:
  step_01_thermostat:
    id: step_01_thermostat
    type: ASK_CHOICE
    goal: determine whether the thermostat is set correctly
    options:
      - id: was_low
        label: Thermostat was set too low
        next_step_id: end_success_thermostat
    suggested_links:
      - target_workflow_id: drain_water_heater
        title: How to drain a water heater
        rationale: needed before flushing
  end_success_thermostat:
    id: end_success_thermostat
    type: END
    goal: lukewarm water issue resolved
`
	drainYAML := `
name: drain_water_heater
title: Drain a water heater
start_step: drain_step_01_power_off
steps:
  drain_step_01_power_off:
    id: drain_step_01_power_off
    type: INSTRUCTION
    goal: shut off power to the heater
    warning: turn off the breaker before touching any wiring
    next_step: drain_end_success
  drain_end_success:
    id: drain_end_success
    type: END
    goal: water heater drained
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lukewarm.yaml"), []byte(lukewarmYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drain.yaml"), []byte(drainYAML), 0o644))

	store, err := workflow.LoadDir(dir)
	require.NoError(t, err)
	assert.True(t, store.Exists("troubleshoot_lukewarm_water"))
	assert.True(t, store.Exists("drain_water_heater"))
}

func TestLoadDir_UnknownLinkTarget(t *testing.T) {
	dir := t.TempDir()

	yamlDoc := `
name: orphan
title: Orphan
start_step: s1
steps:
  s1:
    id: s1
    type: INSTRUCTION
    goal: do a thing
    suggested_links:
      - target_workflow_id: ghost_workflow
        title: Ghost
        rationale: never exists
    next_step: s2
  s2:
    id: s2
    type: END
    goal: done
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orphan.yaml"), []byte(yamlDoc), 0o644))

	_, err := workflow.LoadDir(dir)
	require.Error(t, err)
}
