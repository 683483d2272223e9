package schemas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_AllRegisteredSchemas(t *testing.T) {
	for _, name := range []string{PrimerPlan, WarmupPlan, QuestionPlan, Evaluation, AutoReply} {
		doc, err := Get(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, doc, name)
	}
}

func TestGet_Unknown(t *testing.T) {
	_, err := Get("nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output schema")
}

func TestMustGet_Panics(t *testing.T) {
	assert.Panics(t, func() { MustGet("nonexistent") })
}

func TestValidate_WarmupPlan(t *testing.T) {
	assert.NoError(t, Validate(WarmupPlan, `{"content":"Tell me about a recent project.","tone":"positive"}`))

	err := Validate(WarmupPlan, `{"tone":"positive"}`)
	require.Error(t, err)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, WarmupPlan, validationErr.Schema)
	assert.NotEmpty(t, validationErr.Errors)
}

func TestValidate_QuestionPlan_EscalationEnum(t *testing.T) {
	good := `{"content":"Why did you pick Raft?","escalation":"why","targeted_criteria":["Consistency Models"]}`
	assert.NoError(t, Validate(QuestionPlan, good))

	bad := `{"content":"Why?","escalation":"interrogate"}`
	err := Validate(QuestionPlan, bad)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
}

func TestValidate_Evaluation(t *testing.T) {
	payload := `{
		"summary": "Solid grasp of quorum systems.",
		"anchors_delta": {"Distributed Systems": ["led a cross-region migration"]},
		"rubric_updates": {"Distributed Systems": ["Consistency Models evidenced"]},
		"competency_score": {
			"competency": "Distributed Systems",
			"total_score": 3.5,
			"rubric_filled": false,
			"criterion_scores": [
				{"criterion": "Consistency Models", "score": 4, "weight": 0.5, "rationale": "explained trade-offs"}
			],
			"hints": [],
			"follow_up_needed": true
		}
	}`
	assert.NoError(t, Validate(Evaluation, payload))

	outOfRange := `{"summary":"s","competency_score":{"competency":"A","total_score":9}}`
	err := Validate(Evaluation, outOfRange)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
}

func TestValidate_PrimerPlan(t *testing.T) {
	assert.NoError(t, Validate(PrimerPlan, `{"projects":{"Distributed Systems":"Sharded cache rollout"}}`))

	err := Validate(PrimerPlan, `{"projects":{"Distributed Systems":""}}`)
	assert.Error(t, err, "empty anchors are rejected at the schema boundary")
}

func TestValidate_NotJSON(t *testing.T) {
	err := Validate(AutoReply, "not json at all")
	assert.Error(t, err)
}
