package log2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		level  Level
		fun    func(l *Log)
		expect string
	}{
		{"error", LError, func(l *Log) { l.Errorf("problem var=%d", 42) }, "error: problem var=42\n"},
		{"info", LInfo, func(l *Log) { l.Infof("state=%s", "ok") }, "state=ok\n"},
		{"debug", LDebug, func(l *Log) { l.Debugf("low level") }, "debug: low level\n"},
		{"info-below-threshold", LError, func(l *Log) { l.Infof("hidden") }, ""},
		{"debug-below-threshold", LInfo, func(l *Log) { l.Debugf("hidden") }, ""},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name+"/logger=nil", func(t *testing.T) {
			c.fun(nil)
		})
		t.Run(c.name, func(t *testing.T) {
			buf := bytes.NewBuffer(nil)
			l := NewWriter(buf, c.level)
			l.SetFlags(0)
			c.fun(l)
			assert.Equal(t, c.expect, buf.String())
		})
	}
}

func TestSetLevel(t *testing.T) {
	t.Parallel()
	buf := bytes.NewBuffer(nil)
	l := NewWriter(buf, LError)
	l.SetFlags(0)
	l.Debugf("hidden")
	assert.Equal(t, "", buf.String())
	l.SetLevel(LAll)
	l.Debugf("shown")
	assert.Equal(t, "debug: shown\n", buf.String())
}

func TestClone(t *testing.T) {
	t.Parallel()
	buf := bytes.NewBuffer(nil)
	l := NewWriter(buf, LError)
	l.SetFlags(0)
	dl := l.Clone(LDebug)
	dl.Debugf("via clone")
	l.Debugf("via original")
	assert.Equal(t, "debug: via clone\n", buf.String())

	assert.Nil(t, (*Log)(nil).Clone(LAll))
}

func TestEnabled(t *testing.T) {
	t.Parallel()
	l := NewWriter(bytes.NewBuffer(nil), LInfo)
	assert.True(t, l.Enabled(LError))
	assert.True(t, l.Enabled(LInfo))
	assert.False(t, l.Enabled(LDebug))
	assert.False(t, (*Log)(nil).Enabled(LError))
}
