package roles_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrflow/internal/roles"
)

func TestDefault(t *testing.T) {
	r := roles.Default()

	role, ok := r.Lookup("target_hit")
	require.True(t, ok)
	assert.Equal(t, roles.ActionSuccess, role)

	role, ok = r.Lookup("collision")
	require.True(t, ok)
	assert.Equal(t, roles.NavigationError, role)

	_, ok = r.Lookup("movement_frame")
	assert.False(t, ok)

	entries := r.Entries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Event
	}
	assert.True(t, sort.StringsAreSorted(names), "entries are ordered by event name")
	assert.Equal(t, []string{"guide_used", "help_requested", "hint_used"}, r.Events(roles.HelpEvent))
}

func TestNew(t *testing.T) {
	t.Run("overrides and additions", func(t *testing.T) {
		r, err := roles.New(map[string]string{
			"collision":   "action_fail",
			"box_stacked": "action_success",
		})
		require.NoError(t, err)

		role, _ := r.Lookup("collision")
		assert.Equal(t, roles.ActionFail, role)
		role, _ = r.Lookup("box_stacked")
		assert.Equal(t, roles.ActionSuccess, role)
	})

	t.Run("empty role removes a binding", func(t *testing.T) {
		r, err := roles.New(map[string]string{"wrong_button": ""})
		require.NoError(t, err)
		_, ok := r.Lookup("wrong_button")
		assert.False(t, ok)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := roles.New(map[string]string{"target_hit": "great_success"})
		assert.ErrorContains(t, err, `unknown role "great_success"`)
	})

	t.Run("empty event", func(t *testing.T) {
		_, err := roles.New(map[string]string{" ": "action_fail"})
		assert.Error(t, err)
	})
}
