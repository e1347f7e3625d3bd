package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgetele/sparkplug/log2"
	"github.com/edgetele/sparkplug/payload"
	"github.com/edgetele/sparkplug/publisher"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sentCmd struct {
	Topic   string
	Payload []byte
}

type testEnv struct {
	tr    *Tracker
	clock *testClock

	mu   sync.Mutex
	sent []sentCmd
	gaps []SequenceGap
}

func newTestEnv(t testing.TB) *testEnv {
	env := &testEnv{clock: newTestClock()}
	env.tr = New(Options{
		Log: log2.NewTest(t, log2.LDebug),
		SendCommand: func(topic string, raw []byte) error {
			env.mu.Lock()
			env.sent = append(env.sent, sentCmd{Topic: topic, Payload: raw})
			env.mu.Unlock()
			return nil
		},
		OnSequenceGap: func(g SequenceGap) {
			env.mu.Lock()
			env.gaps = append(env.gaps, g)
			env.mu.Unlock()
		},
		WakeBackoffBase: 5 * time.Second,
		WakeBackoffCap:  60 * time.Second,
		Now:             env.clock.Now,
	})
	return env
}

func (env *testEnv) sentCount() int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return len(env.sent)
}

func (env *testEnv) gapCount() int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return len(env.gaps)
}

func birthBytes(t testing.TB, seq uint8, bdSeq uint64, extra ...payload.Metric) []byte {
	b := payload.NewBuilder()
	b.SetSeq(seq)
	require.NoError(t, b.AddWithAlias(publisher.BdSeqMetricName, 0, payload.UInt64Value(bdSeq)))
	for _, m := range extra {
		require.NoError(t, b.AddMetric(m))
	}
	raw, err := b.Serialize()
	require.NoError(t, err)
	return raw
}

func deathBytes(t testing.TB, bdSeq uint64) []byte {
	b := payload.NewBuilder()
	require.NoError(t, b.Add(publisher.BdSeqMetricName, payload.UInt64Value(bdSeq)))
	raw, err := b.Serialize()
	require.NoError(t, err)
	return raw
}

func dataBytes(t testing.TB, seq uint8, metrics ...payload.Metric) []byte {
	b := payload.NewBuilder()
	b.SetSeq(seq)
	for _, m := range metrics {
		require.NoError(t, b.AddMetric(m))
	}
	raw, err := b.Serialize()
	require.NoError(t, err)
	return raw
}

func mustStatus(t testing.TB, tr *Tracker) NodeStatus {
	t.Helper()
	st, ok := tr.Status("Energy", "Gateway01")
	require.True(t, ok)
	return st
}

const (
	topicBirth = "spBv1.0/Energy/NBIRTH/Gateway01"
	topicDeath = "spBv1.0/Energy/NDEATH/Gateway01"
	topicData  = "spBv1.0/Energy/NDATA/Gateway01"
)

func TestBirthDeathTransitions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.tr.Handle(topicBirth, birthBytes(t, 0, 7))
	st := mustStatus(t, env.tr)
	assert.Equal(t, StateAwake, st.State)
	assert.Equal(t, uint32(1), st.BirthCount)
	assert.Equal(t, uint64(7), st.BdSeq)

	env.tr.Handle(topicDeath, deathBytes(t, 7))
	st = mustStatus(t, env.tr)
	assert.Equal(t, StateSleeping, st.State)
	assert.Equal(t, uint32(1), st.DeathCount)
}

func TestStaleDeathIgnored(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.tr.Handle(topicBirth, birthBytes(t, 0, 7))

	// will of a previous session, delivered after the rebirth
	env.tr.Handle(topicDeath, deathBytes(t, 6))
	st := mustStatus(t, env.tr)
	assert.Equal(t, StateAwake, st.State)
	assert.Equal(t, uint32(0), st.DeathCount)
}

func TestSequenceGapDetection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.tr.Handle(topicBirth, birthBytes(t, 0, 1))

	for seq := uint8(1); seq <= 3; seq++ {
		env.tr.Handle(topicData, dataBytes(t, seq))
	}
	assert.Equal(t, 0, env.gapCount())

	// jump from 3 to 6
	env.tr.Handle(topicData, dataBytes(t, 6))
	require.Equal(t, 1, env.gapCount())
	env.mu.Lock()
	g := env.gaps[0]
	env.mu.Unlock()
	assert.Equal(t, uint8(4), g.Expected)
	assert.Equal(t, uint8(6), g.Got)
	assert.Equal(t, uint32(1), mustStatus(t, env.tr).GapCount)

	// lastSeq advanced regardless; the next in-order message is clean
	env.tr.Handle(topicData, dataBytes(t, 7))
	assert.Equal(t, 1, env.gapCount())
}

func TestSequenceGapAt250(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.tr.Handle(topicBirth, birthBytes(t, 0, 1))
	env.tr.Handle(topicData, dataBytes(t, 250))
	env.gaps = nil

	env.tr.Handle(topicData, dataBytes(t, 252))
	assert.Equal(t, 1, env.gapCount())
}

func TestSequenceWrapTolerance(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.tr.Handle(topicBirth, birthBytes(t, 0, 1))
	env.tr.Handle(topicData, dataBytes(t, 255))
	env.gaps = nil

	// anything after 255 is tolerated, wrap or not
	env.tr.Handle(topicData, dataBytes(t, 0))
	assert.Equal(t, 0, env.gapCount())
}

func TestSequenceDuplicateTolerance(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.tr.Handle(topicBirth, birthBytes(t, 0, 1))
	env.tr.Handle(topicData, dataBytes(t, 1))
	env.tr.Handle(topicData, dataBytes(t, 1)) // broker retransmit
	assert.Equal(t, 0, env.gapCount())
}

func TestDataWhileSleepingRequestsRebirth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.tr.Handle(topicBirth, birthBytes(t, 0, 1))
	env.tr.Handle(topicDeath, deathBytes(t, 1))

	env.tr.Handle(topicData, dataBytes(t, 3))
	st := mustStatus(t, env.tr)
	assert.Equal(t, StateWakePending, st.State)
	require.Equal(t, 1, env.sentCount())
	env.mu.Lock()
	cmd := env.sent[0]
	env.mu.Unlock()
	assert.Equal(t, "spBv1.0/Energy/NCMD/Gateway01", cmd.Topic)
	p, err := payload.Parse(cmd.Payload)
	require.NoError(t, err)
	assert.True(t, publisher.IsRebirthRequest(p))

	// birth resolves the pending wake and resets attempts
	env.tr.Handle(topicBirth, birthBytes(t, 0, 2))
	st = mustStatus(t, env.tr)
	assert.Equal(t, StateAwake, st.State)
	assert.Equal(t, uint32(0), st.WakeAttempts)
}

func TestDataFromUnknownNodeRequestsRebirth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.tr.Handle(topicData, dataBytes(t, 17))
	st := mustStatus(t, env.tr)
	assert.Equal(t, StateWakePending, st.State)
	assert.Equal(t, 1, env.sentCount())
	// no gap flagged: node was never awake
	assert.Equal(t, 0, env.gapCount())
}

func TestWakeTimeoutAndBackoffRetry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.tr.Handle(topicData, dataBytes(t, 1))
	require.Equal(t, 1, env.sentCount())

	// within the base window: still waiting for the birth, no resend
	env.clock.Advance(2 * time.Second)
	env.tr.Sweep(env.clock.Now())
	assert.Equal(t, StateWakePending, mustStatus(t, env.tr).State)
	assert.Equal(t, 1, env.sentCount())

	// base window expired with no birth: the sweep that notices repeats
	// the request at once
	env.clock.Advance(4 * time.Second)
	env.tr.Sweep(env.clock.Now())
	st := mustStatus(t, env.tr)
	assert.Equal(t, StateWakePending, st.State)
	assert.Equal(t, uint32(1), st.WakeAttempts)
	assert.Equal(t, 2, env.sentCount())

	// the second attempt waits base*2 before repeating again
	env.clock.Advance(5 * time.Second)
	env.tr.Sweep(env.clock.Now())
	assert.Equal(t, 2, env.sentCount())
	env.clock.Advance(6 * time.Second)
	env.tr.Sweep(env.clock.Now())
	st = mustStatus(t, env.tr)
	assert.Equal(t, uint32(2), st.WakeAttempts)
	assert.Equal(t, 3, env.sentCount())

	// the birth finally arrives: pending wake resolves, attempts reset
	env.tr.Handle(topicBirth, birthBytes(t, 0, 1))
	st = mustStatus(t, env.tr)
	assert.Equal(t, StateAwake, st.State)
	assert.Equal(t, uint32(0), st.WakeAttempts)
}

func TestWakeBackoffCap(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	assert.Equal(t, 5*time.Second, env.tr.wakeBackoff(0))
	assert.Equal(t, 10*time.Second, env.tr.wakeBackoff(1))
	assert.Equal(t, 40*time.Second, env.tr.wakeBackoff(3))
	assert.Equal(t, 60*time.Second, env.tr.wakeBackoff(4))
	assert.Equal(t, 60*time.Second, env.tr.wakeBackoff(50))
}

func TestMalformedInputIsRecoverable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.tr.Handle(topicBirth, birthBytes(t, 0, 1))

	env.tr.Handle("spBv1.0/Energy/NDATA/Gateway01/Extra", dataBytes(t, 1)) // bad shape
	env.tr.Handle(topicData, []byte{0x12, 0xff, 0xff})                     // bad payload
	env.tr.Handle("garbage", nil)

	st := mustStatus(t, env.tr)
	assert.Equal(t, StateAwake, st.State)
	assert.Equal(t, uint32(0), st.DataCount)
}

func TestAliasResolution(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.tr.Handle(topicBirth, birthBytes(t, 0, 1,
		payload.BirthMetric("temperature", 5, payload.DoubleValue(20))))

	name, err := env.tr.ResolveMetricName("Energy", "Gateway01", "", 5)
	require.NoError(t, err)
	assert.Equal(t, "temperature", name)

	_, err = env.tr.ResolveMetricName("Energy", "Gateway01", "", 6)
	require.Error(t, err)

	// a fresh birth replaces the binding set
	env.tr.Handle(topicBirth, birthBytes(t, 0, 2,
		payload.BirthMetric("pressure", 6, payload.DoubleValue(1))))
	_, err = env.tr.ResolveMetricName("Energy", "Gateway01", "", 5)
	require.Error(t, err)
}

func TestDeviceMessagesShareNodeSequence(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.tr.Handle(topicBirth, birthBytes(t, 0, 1))
	env.tr.Handle("spBv1.0/Energy/DBIRTH/Gateway01/Sensor01",
		dataBytes(t, 1, payload.BirthMetric("humidity", 9, payload.FloatValue(0.5))))
	env.tr.Handle("spBv1.0/Energy/DDATA/Gateway01/Sensor01",
		dataBytes(t, 2, payload.AliasMetric(9, payload.FloatValue(0.6))))
	assert.Equal(t, 0, env.gapCount())

	name, err := env.tr.ResolveMetricName("Energy", "Gateway01", "Sensor01", 9)
	require.NoError(t, err)
	assert.Equal(t, "humidity", name)

	// skipping 3 flags a gap on a device message too
	env.tr.Handle("spBv1.0/Energy/DDATA/Gateway01/Sensor01",
		dataBytes(t, 4, payload.AliasMetric(9, payload.FloatValue(0.7))))
	assert.Equal(t, 1, env.gapCount())
}
