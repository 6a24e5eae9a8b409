package replication

import (
	"fmt"

	"github.com/nguyentranbao-ct/chat-replica/internal/models"
)

// Resolution is the outcome of a conflict check for one document.
type Resolution struct {
	IsEqual  bool
	Document models.Document
}

// ConflictHandler decides between a local write and the canonical state it
// diverged from.
type ConflictHandler func(assumedMaster, newState, realMaster models.Document) Resolution

const (
	PolicyOlderWins = "older-wins"
	PolicyNewerWins = "newer-wins"
)

// Resolve keeps the document with the smaller modifiedAt: when the local
// write is newer than the canonical state the canonical state wins, on a
// tie or an older local write the local write wins.
func Resolve(assumedMaster, newState, realMaster models.Document) Resolution {
	if newState.Equal(realMaster) {
		return Resolution{IsEqual: true}
	}
	if newState.ModifiedAt() > realMaster.ModifiedAt() {
		return Resolution{Document: realMaster}
	}
	return Resolution{Document: newState}
}

// ResolveNewerWins is last-write-wins; ties keep the canonical state.
func ResolveNewerWins(assumedMaster, newState, realMaster models.Document) Resolution {
	if newState.Equal(realMaster) {
		return Resolution{IsEqual: true}
	}
	if newState.ModifiedAt() > realMaster.ModifiedAt() {
		return Resolution{Document: newState}
	}
	return Resolution{Document: realMaster}
}

func ConflictHandlerFor(policy string) (ConflictHandler, error) {
	switch policy {
	case "", PolicyOlderWins:
		return Resolve, nil
	case PolicyNewerWins:
		return ResolveNewerWins, nil
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", policy)
	}
}
