package utils

import (
	"testing"
	"time"

	"github.com/magiconair/properties/assert"
)

func TestStatAppendAndClear(t *testing.T) {
	st := NewStat()
	for i := 0; i < 10; i++ {
		info := NewInfo(2)
		info.IsCommit = i%2 == 0
		info.Failure = !info.IsCommit
		info.Latency = time.Duration(i+1) * time.Millisecond
		st.Append(info)
	}
	st.Log()
	st.Clear()
	// a cleared window reports nothing from the old infos
	st.Log()
	assert.Equal(t, 10, st.endTS)
	assert.Equal(t, 10, st.beginTS)
}

func TestNewInfoDefaults(t *testing.T) {
	info := NewInfo(2)
	assert.Equal(t, 2, info.NumPart)
	assert.Equal(t, false, info.IsCommit)
	assert.Equal(t, false, info.Failure)
	assert.Equal(t, 0, info.RetryCount)
	assert.Equal(t, 0, info.ApplyRetries)
}

func TestMin(t *testing.T) {
	assert.Equal(t, 1, Min(1, 2))
	assert.Equal(t, -3, Min(-3, 2))
}
