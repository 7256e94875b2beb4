package sync

import "time"

// State is the per-document outcome of comparing local and remote.
type State int

const (
	StateUnchanged State = iota
	StateNewFromRemote
	StateUpdatedFromRemote
	StateMissingRemote
	StateProtected
	// StateRenamed is assigned by the engine when a document missing under
	// its own slug matches a new remote file by title.
	StateRenamed
)

func (s State) String() string {
	switch s {
	case StateUnchanged:
		return "unchanged"
	case StateNewFromRemote:
		return "new"
	case StateUpdatedFromRemote:
		return "update"
	case StateMissingRemote:
		return "delete"
	case StateProtected:
		return "protected"
	case StateRenamed:
		return "rename"
	default:
		return "unknown"
	}
}

// LocalEntry is the part of a local document Classify looks at.
type LocalEntry struct {
	ID string
	// EditedAt is the last local edit; zero when never edited locally.
	EditedAt time.Time
}

// RemoteEntry is the part of a remote file Classify looks at.
type RemoteEntry struct {
	SHA string
}

// Classify decides what a pass does with one slug. local or remote is nil
// when that side has no file under the slug. A local document missing
// remotely is protected while it was edited locally less than window ago,
// unless force is set. Writes made by sync itself do not count as edits.
func Classify(local *LocalEntry, remote *RemoteEntry, now time.Time, window time.Duration, force bool) State {
	switch {
	case local == nil && remote == nil:
		return StateUnchanged
	case local == nil:
		return StateNewFromRemote
	case remote == nil:
		if !force && !local.EditedAt.IsZero() && now.Sub(local.EditedAt) < window {
			return StateProtected
		}
		return StateMissingRemote
	case local.ID == remote.SHA:
		return StateUnchanged
	default:
		return StateUpdatedFromRemote
	}
}
