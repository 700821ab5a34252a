package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/treesync/internal/testutil"
	"github.com/roach88/treesync/internal/view"
)

func TestDispatcher_ActivePerQuery(t *testing.T) {
	d := NewDispatcher(Synchronous)
	rec := testutil.NewRecorder()

	d.Register("/x$default", rec.ID())
	d.Register("/y$default", rec.ID())
	d.Unregister("/x$default", rec.ID())
	assert.False(t, d.IsActive("/x$default", rec.ID()))
	assert.True(t, d.IsActive("/y$default", rec.ID()))

	d.Dispatch([]view.Event{
		{Type: view.Value, Registration: rec, Query: "/x$default"},
		{Type: view.Value, Registration: rec, Query: "/y$default"},
		{Type: view.Cancel, Registration: rec, Query: "/x$default"},
	})
	assert.Equal(t, []string{"value", "cancel"}, rec.Describe())
	assert.Equal(t, "/y$default", rec.Events()[0].Query)
}

func TestDispatcher_CountsRegistrations(t *testing.T) {
	d := NewDispatcher(Synchronous)
	d.Register("/x$default", "r")
	d.Register("/x$default", "r")
	d.Unregister("/x$default", "r")
	assert.True(t, d.IsActive("/x$default", "r"))
	d.Unregister("/x$default", "r")
	assert.False(t, d.IsActive("/x$default", "r"))
}

func TestDispatcher_RunsAfterEvents(t *testing.T) {
	d := NewDispatcher(Synchronous)
	var order []string
	d.Dispatch(nil, func() { order = append(order, "first") }, func() { order = append(order, "second") })
	assert.Equal(t, []string{"first", "second"}, order)
}
