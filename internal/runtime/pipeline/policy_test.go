package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/fluxbridge/internal/runtime/errors"
)

func TestNewPolicyDefaults(t *testing.T) {
	recoverAll, err := NewPolicy(false, nil)
	require.NoError(t, err)
	terminateAll, err := NewPolicy(true, nil)
	require.NoError(t, err)

	for _, k := range errspkg.Kinds() {
		assert.Equal(t, Recover, recoverAll.Decide(k), "kind %s", k)
		assert.Equal(t, Terminate, terminateAll.Decide(k), "kind %s", k)
	}
	assert.Equal(t, Recover, terminateAll.Decide(errspkg.KindNotFound), "not found is never a failure")
}

func TestNewPolicyOverrides(t *testing.T) {
	p, err := NewPolicy(false, map[string]string{"write": "terminate", "Parse": "RECOVER"})
	require.NoError(t, err)

	assert.Equal(t, Terminate, p.Decide(errspkg.KindWrite))
	assert.Equal(t, Recover, p.Decide(errspkg.KindParse))
	assert.Equal(t, Recover, p.Decide(errspkg.KindEvaluation))
	assert.Equal(t, map[string]string{
		"parse":      "recover",
		"evaluation": "recover",
		"write":      "terminate",
		"transport":  "recover",
	}, p.Snapshot())
}

func TestNewPolicyRejectsUnknownEntries(t *testing.T) {
	_, err := NewPolicy(false, map[string]string{"bogus": "terminate"})
	require.Error(t, err)

	_, err = NewPolicy(false, map[string]string{"write": "panic"})
	require.Error(t, err)

	_, err = NewPolicy(false, map[string]string{"not_found": "terminate"})
	require.Error(t, err)
	assert.Equal(t, errspkg.KindConfig, errspkg.KindOf(err))
}

func TestNilPolicyRecovers(t *testing.T) {
	var p *Policy
	assert.Equal(t, Recover, p.Decide(errspkg.KindWrite))
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision(" Terminate ")
	require.NoError(t, err)
	assert.Equal(t, Terminate, d)
	assert.Equal(t, "terminate", d.String())
	assert.Equal(t, "recover", Recover.String())

	_, err = ParseDecision("ignore")
	require.Error(t, err)
}
