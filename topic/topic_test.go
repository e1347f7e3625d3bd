package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodeBirth(t *testing.T) {
	t.Parallel()
	tt, err := Parse("spBv1.0/Energy/NBIRTH/Gateway01")
	require.NoError(t, err)
	assert.Equal(t, NBirth, tt.Type)
	assert.Equal(t, "Energy", tt.Group)
	assert.Equal(t, "Gateway01", tt.EdgeNode)
	assert.Equal(t, "", tt.Device)
	assert.Equal(t, "", tt.HostID)
}

func TestParseDeviceData(t *testing.T) {
	t.Parallel()
	tt, err := Parse("spBv1.0/Energy/DDATA/Gateway01/Sensor01")
	require.NoError(t, err)
	assert.Equal(t, DData, tt.Type)
	assert.Equal(t, "Sensor01", tt.Device)
}

func TestParseState(t *testing.T) {
	t.Parallel()
	tt, err := Parse("STATE/Host1")
	require.NoError(t, err)
	assert.Equal(t, State, tt.Type)
	assert.Equal(t, "Host1", tt.HostID)
	assert.Equal(t, "", tt.Group)
	assert.Equal(t, "", tt.EdgeNode)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		topic string
	}{
		{"too-few-segments", "spBv1.0/Energy/NDATA"},
		{"too-many-segments", "spBv1.0/Energy/DDATA/Node/Dev/Extra"},
		{"wrong-namespace", "spAv1.0/Energy/NDATA/Gateway01"},
		{"unknown-type", "spBv1.0/Energy/XDATA/Gateway01"},
		{"device-missing", "spBv1.0/Energy/DDATA/Gateway01"},
		{"device-forbidden", "spBv1.0/Energy/NDATA/Gateway01/Extra"},
		{"device-empty", "spBv1.0/Energy/DDATA/Gateway01/"},
		{"state-in-namespace", "spBv1.0/Energy/STATE/Gateway01"},
		{"state-too-long", "STATE/Host1/extra"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			_, err := Parse(c.topic)
			require.Error(t, err)
			ite, ok := err.(*InvalidTopicError)
			require.True(t, ok, "want *InvalidTopicError, got %T", err)
			assert.NotEmpty(t, ite.Reason)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	valid := []string{
		"spBv1.0/Energy/NBIRTH/Gateway01",
		"spBv1.0/Energy/NDEATH/Gateway01",
		"spBv1.0/Energy/NDATA/Gateway01",
		"spBv1.0/Energy/NCMD/Gateway01",
		"spBv1.0/Energy/DBIRTH/Gateway01/Sensor01",
		"spBv1.0/Energy/DDEATH/Gateway01/Sensor01",
		"spBv1.0/Energy/DDATA/Gateway01/Sensor01",
		"spBv1.0/Energy/DCMD/Gateway01/Sensor01",
		"STATE/ScadaHost01",
	}
	for _, s := range valid {
		tt, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, tt.String())
	}
}

func TestConstructors(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "spBv1.0/Energy/NDATA/Gateway01",
		NodeTopic("Energy", NData, "Gateway01").String())
	assert.Equal(t, "spBv1.0/Energy/DCMD/Gateway01/Motor01",
		DeviceTopic("Energy", DCmd, "Gateway01", "Motor01").String())
	assert.Equal(t, "STATE/Host1", StateTopic("Host1").String())
}

func TestPredicates(t *testing.T) {
	t.Parallel()
	assert.True(t, NBirth.IsBirth())
	assert.True(t, DBirth.IsBirth())
	assert.True(t, NDeath.IsDeath())
	assert.True(t, DDeath.IsDeath())
	assert.True(t, NData.IsData())
	assert.True(t, DData.IsData())
	assert.True(t, NCmd.IsCommand())
	assert.True(t, DCmd.IsCommand())
	assert.True(t, NBirth.IsNodeLevel())
	assert.False(t, NBirth.IsDeviceLevel())
	assert.True(t, DData.IsDeviceLevel())
	assert.False(t, DData.IsNodeLevel())
	assert.False(t, State.IsNodeLevel())
	assert.False(t, State.IsDeviceLevel())
}

func TestFilters(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "spBv1.0/Energy/#", GroupFilter("Energy"))
	assert.Equal(t, "spBv1.0/Energy/+/Gateway01/#", NodeFilter("Energy", "Gateway01"))
	assert.Equal(t, "STATE/Host1", StateFilter("Host1"))
}
