package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsToInfo(t *testing.T) {
	l := New("nonsense").(*implLogger)
	assert.Equal(t, 1, l.level)
}

func TestLevelParsing(t *testing.T) {
	for name, want := range levels {
		l := New(name).(*implLogger)
		assert.Equal(t, want, l.level, name)
	}
}
