package replication

import (
	"testing"

	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	t.Run("equal states never conflict", func(t *testing.T) {
		x := models.Document{"id": "a", "content": "hi", "modifiedAt": int64(100)}
		for _, assumed := range []models.Document{nil, {}, {"id": "a", "modifiedAt": 1}} {
			res := Resolve(assumed, x, x.Clone())
			assert.True(t, res.IsEqual)
			assert.Nil(t, res.Document)
		}
	})

	t.Run("numeric types do not cause false conflicts", func(t *testing.T) {
		a := models.Document{"id": "a", "modifiedAt": int64(100)}
		b := models.Document{"id": "a", "modifiedAt": float64(100)}
		assert.True(t, Resolve(nil, a, b).IsEqual)
	})

	cases := []struct {
		name       string
		newAt      int64
		realAt     int64
		wantMaster bool
	}{
		{name: "newer local write loses to canonical", newAt: 200, realAt: 100, wantMaster: true},
		{name: "older local write is kept", newAt: 100, realAt: 200, wantMaster: false},
		{name: "tie keeps local write", newAt: 150, realAt: 150, wantMaster: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			newState := models.Document{"id": "a", "content": "local", "modifiedAt": tc.newAt}
			real := models.Document{"id": "a", "content": "canonical", "modifiedAt": tc.realAt}

			res := Resolve(nil, newState, real)
			require.False(t, res.IsEqual)
			if tc.wantMaster {
				assert.Equal(t, real, res.Document)
			} else {
				assert.Equal(t, newState, res.Document)
			}
		})
	}
}

func TestResolveNewerWins(t *testing.T) {
	t.Parallel()

	newState := models.Document{"id": "a", "content": "local", "modifiedAt": int64(100)}
	real := models.Document{"id": "a", "content": "canonical", "modifiedAt": int64(200)}
	assert.Equal(t, real, ResolveNewerWins(nil, newState, real).Document)

	newState["modifiedAt"] = int64(200)
	real["modifiedAt"] = int64(100)
	assert.Equal(t, newState, ResolveNewerWins(nil, newState, real).Document)

	assert.True(t, ResolveNewerWins(nil, real, real.Clone()).IsEqual)
}

func TestConflictHandlerFor(t *testing.T) {
	t.Parallel()

	for _, policy := range []string{"", PolicyOlderWins, PolicyNewerWins} {
		h, err := ConflictHandlerFor(policy)
		require.NoError(t, err)
		assert.NotNil(t, h)
	}
	_, err := ConflictHandlerFor("random")
	assert.Error(t, err)
}
