package monitor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobMonitor_RecordSuccess(t *testing.T) {
	jm := NewJobMonitor("badger_gc")
	jm.RecordFailure(errors.New("disk full"))
	jm.RecordSuccess()

	status := jm.Status()
	require.True(t, status.Healthy)
	require.Equal(t, "badger_gc", status.Name)
	require.Equal(t, 2, status.Runs)
	require.Zero(t, status.ConsecutiveErrors)
	require.Empty(t, status.LastError)
	require.NotEmpty(t, status.LastSuccess)
}

func TestJobMonitor_RecordFailure(t *testing.T) {
	jm := NewJobMonitor("analysis")
	jm.Record(errors.New("missing flag column"))

	status := jm.Status()
	require.Equal(t, 1, status.ConsecutiveErrors)
	require.Equal(t, "missing flag column", status.LastError)
	require.Empty(t, status.LastSuccess)
	require.NotEmpty(t, status.LastAttempt)
}

func TestJobMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*JobMonitor)
		expected bool
	}{
		{
			name:     "never ran",
			setup:    func(*JobMonitor) {},
			expected: true,
		},
		{
			name: "recent success",
			setup: func(jm *JobMonitor) {
				jm.Record(nil)
			},
			expected: true,
		},
		{
			name: "few errors",
			setup: func(jm *JobMonitor) {
				for i := 0; i < MaxConsecutiveErrors; i++ {
					jm.RecordFailure(errors.New("error"))
				}
			},
			expected: true,
		},
		{
			name: "too many consecutive errors",
			setup: func(jm *JobMonitor) {
				jm.RecordSuccess()
				for i := 0; i <= MaxConsecutiveErrors; i++ {
					jm.RecordFailure(errors.New("error"))
				}
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jm := NewJobMonitor(tt.name)
			tt.setup(jm)
			if got := jm.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
		})
	}
}
