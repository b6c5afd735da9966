package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []any
	err    error
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, v)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestRegistryIndexes(t *testing.T) {
	r := NewRegistry()
	admin1, admin2, cust := &fakeConn{}, &fakeConn{}, &fakeConn{}
	r.Join("h1", "u1", "ADMIN", admin1)
	r.Join("h2", "u2", "ADMIN", admin2)
	r.Join("h3", "u3", "CUSTOMER", cust)

	require.Len(t, r.ForRole("ADMIN"), 2)
	require.Len(t, r.ForRole("CUSTOMER"), 1)
	require.Len(t, r.ForUser("u1"), 1)
	require.Len(t, r.All(), 3)
	require.Equal(t, 3, r.Count())
	require.Equal(t, map[string]int{"ADMIN": 2, "CUSTOMER": 1}, r.CountByRole())

	r.Leave("h2")
	require.Len(t, r.ForRole("ADMIN"), 1)
	require.Equal(t, 2, r.Count())
}

func TestRegistryLeaveUnknownHandle(t *testing.T) {
	r := NewRegistry()
	r.Join("h1", "u1", "ADMIN", &fakeConn{})
	r.Leave("nope")
	require.Equal(t, 1, r.Count())
}

func TestRegistryJoinReplacesHandle(t *testing.T) {
	r := NewRegistry()
	old, repl := &fakeConn{}, &fakeConn{}
	r.Join("h1", "u1", "ADMIN", old)
	r.Join("h1", "u1", "TECHNICIAN", repl)

	require.Equal(t, 1, r.Count())
	require.Empty(t, r.ForRole("ADMIN"))
	require.Len(t, r.ForRole("TECHNICIAN"), 1)

	conns := r.ForUser("u1")
	require.Len(t, conns, 1)
	require.NoError(t, conns[0].WriteJSON("ping"))
	require.Equal(t, 0, old.count())
	require.Equal(t, 1, repl.count())
}

func TestRegistryUserWithMultipleConnections(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeConn{}, &fakeConn{}
	r.Join("tab-1", "u1", "TECHNICIAN", a)
	r.Join("tab-2", "u1", "TECHNICIAN", b)
	require.Len(t, r.ForUser("u1"), 2)
	r.Leave("tab-1")
	require.Len(t, r.ForUser("u1"), 1)
}
