package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("running")
	require.NoError(t, err)
	require.Equal(t, PhaseRunning, p)

	_, err = ParsePhase("bogus")
	require.EqualError(t, err, `unknown phase "bogus"`)
}

func TestPhaseValid(t *testing.T) {
	for _, p := range Phases() {
		require.True(t, p.Valid(), p)
	}
	require.False(t, Phase("running").Valid())
	require.False(t, Phase("").Valid())
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("argo/hello-world")
	require.NoError(t, err)
	require.Equal(t, Key{Namespace: "argo", Name: "hello-world"}, k)
	require.Equal(t, "argo/hello-world", k.String())

	for _, bad := range []string{"", "argo", "argo/", "/name"} {
		_, err := ParseKey(bad)
		require.Error(t, err, bad)
	}
}

func TestKeyIsZero(t *testing.T) {
	require.True(t, Key{}.IsZero())
	require.True(t, Key{Namespace: "argo"}.IsZero())
	require.True(t, Key{Name: "a"}.IsZero())
	require.False(t, Key{Namespace: "argo", Name: "a"}.IsZero())
}

func TestCloneCopiesLabels(t *testing.T) {
	wf := &Workflow{
		Key:             Key{Namespace: "argo", Name: "a"},
		ResourceVersion: "1",
		Labels:          map[string]string{"team": "ml"},
	}
	c := wf.Clone()
	require.Equal(t, wf, c)
	c.Labels["team"] = "infra"
	require.Equal(t, "ml", wf.Labels["team"])

	var nilWF *Workflow
	require.Nil(t, nilWF.Clone())
}
