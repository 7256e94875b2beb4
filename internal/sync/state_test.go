package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 24 * time.Hour

	cases := []struct {
		name   string
		local  *LocalEntry
		remote *RemoteEntry
		force  bool
		want   State
	}{
		{"both absent", nil, nil, false, StateUnchanged},
		{"remote only", nil, &RemoteEntry{SHA: "a"}, false, StateNewFromRemote},
		{"same hash", &LocalEntry{ID: "a", EditedAt: now}, &RemoteEntry{SHA: "a"}, false, StateUnchanged},
		{"hash changed", &LocalEntry{ID: "a", EditedAt: now}, &RemoteEntry{SHA: "b"}, false, StateUpdatedFromRemote},
		{"missing, 25h old", &LocalEntry{ID: "a", EditedAt: now.Add(-25 * time.Hour)}, nil, false, StateMissingRemote},
		{"missing, 1m old", &LocalEntry{ID: "a", EditedAt: now.Add(-time.Minute)}, nil, false, StateProtected},
		{"missing, 1m old, forced", &LocalEntry{ID: "a", EditedAt: now.Add(-time.Minute)}, nil, true, StateMissingRemote},
		{"missing, exactly window", &LocalEntry{ID: "a", EditedAt: now.Add(-window)}, nil, false, StateMissingRemote},
		{"missing, never edited locally", &LocalEntry{ID: "a"}, nil, false, StateMissingRemote},
		{"missing, future timestamp", &LocalEntry{ID: "a", EditedAt: now.Add(time.Hour)}, nil, false, StateProtected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.local, tc.remote, now, window, tc.force))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "new", StateNewFromRemote.String())
	assert.Equal(t, "rename", StateRenamed.String())
	assert.Equal(t, "unknown", State(99).String())
}
