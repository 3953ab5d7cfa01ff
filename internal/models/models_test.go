package models

import "testing"

func TestDeriveRunStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stored string
		counts map[string]int
		want   string
	}{
		{
			name:   "created stays created before fanout",
			stored: RunCreated,
			counts: map[string]int{},
			want:   RunCreated,
		},
		{
			name:   "all done completes",
			stored: RunRunning,
			counts: map[string]int{TaskDone: 4},
			want:   RunCompleted,
		},
		{
			name:   "any dead fails",
			stored: RunRunning,
			counts: map[string]int{TaskDone: 3, TaskDead: 1},
			want:   RunFailed,
		},
		{
			name:   "queued tasks keep it running",
			stored: RunRunning,
			counts: map[string]int{TaskDone: 2, TaskQueued: 1},
			want:   RunRunning,
		},
		{
			name:   "leased tasks keep it running",
			stored: RunRunning,
			counts: map[string]int{TaskDone: 2, TaskLeased: 2},
			want:   RunRunning,
		},
		{
			name:   "failed task awaiting retry is not terminal",
			stored: RunRunning,
			counts: map[string]int{TaskDone: 1, TaskFailed: 1},
			want:   RunRunning,
		},
		{
			name:   "no tasks yet stays running",
			stored: RunRunning,
			counts: map[string]int{},
			want:   RunRunning,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DeriveRunStatus(tt.stored, tt.counts); got != tt.want {
				t.Errorf("DeriveRunStatus(%s, %v) = %s, want %s", tt.stored, tt.counts, got, tt.want)
			}
		})
	}
}
