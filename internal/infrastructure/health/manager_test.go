package health

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager_Aggregation(t *testing.T) {
	m := NewManager(nil)

	// no checks registered means healthy
	assert.True(t, m.IsHealthy())

	m.Register("rules", func() error { return nil })
	assert.True(t, m.IsHealthy())

	m.Register("history", func() error { return fmt.Errorf("database locked") })
	assert.False(t, m.IsHealthy())

	status := m.GetStatus()
	assert.Equal(t, "Healthy", status["rules"])
	assert.Equal(t, "Unhealthy: database locked", status["history"])
}

func TestManager_CheckReplacement(t *testing.T) {
	m := NewManager(nil)
	m.Register("history", func() error { return fmt.Errorf("down") })
	assert.False(t, m.IsHealthy())

	m.Register("history", func() error { return nil })
	assert.True(t, m.IsHealthy())
}
