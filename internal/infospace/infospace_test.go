package infospace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespaceLifecycle(t *testing.T) {
	reg := NewRegistry()
	ns, created := reg.GetOrCreate("urn:crate:hw:shelf01.amc02")
	require.True(t, created)

	require.NoError(t, ns.Create("L1A", KindUint32, HW32, "", uint64(12)))
	require.NoError(t, ns.Create("DeviceIPAddress", KindString, NoUpdate, "", "192.168.0.162"))

	f, ok := ns.Get("L1A")
	require.True(t, ok)
	assert.Equal(t, uint32(12), f.Value)
	assert.Equal(t, HW32, f.Policy)

	require.NoError(t, ns.Set("L1A", uint32(13)))
	f, _ = ns.Get("L1A")
	assert.Equal(t, uint32(13), f.Value)

	assert.Equal(t, []string{"L1A", "DeviceIPAddress"}, ns.Names())

	require.NoError(t, ns.Revoke("L1A"))
	_, ok = ns.Get("L1A")
	assert.False(t, ok)
	assert.Equal(t, 1, ns.Len())
}

func TestNamespaceErrors(t *testing.T) {
	ns, _ := NewRegistry().GetOrCreate("urn:x")

	require.NoError(t, ns.Create("A", KindUint32, HW32, "", uint32(1)))
	assert.ErrorIs(t, ns.Create("A", KindUint32, HW32, "", uint32(1)), ErrFieldExists)
	assert.ErrorIs(t, ns.Set("B", uint32(1)), ErrFieldNotFound)
	assert.ErrorIs(t, ns.Revoke("B"), ErrFieldNotFound)
	assert.ErrorIs(t, ns.Set("A", "text"), ErrTypeMismatch)
	assert.ErrorIs(t, ns.Set("A", uint64(1)<<40), ErrTypeMismatch)
	assert.ErrorIs(t, ns.Create("C", KindString, NoUpdate, "", 5), ErrTypeMismatch)
}

func TestRegistryListeners(t *testing.T) {
	reg := NewRegistry()

	var mu sync.Mutex
	var changes []Change
	reg.OnChange(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})

	ns, _ := reg.GetOrCreate("urn:a")
	require.NoError(t, ns.Create("X", KindDouble, Process, FormatRate, 0.0))
	require.NoError(t, ns.Set("X", 2.5))
	require.NoError(t, ns.Revoke("X"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 3)
	assert.Equal(t, Change{URN: "urn:a", Field: "X", Value: 2.5}, changes[1])
	assert.True(t, changes[2].Revoked)
}

func TestRegistryGetOrCreateRemove(t *testing.T) {
	reg := NewRegistry()

	a, created := reg.GetOrCreate("urn:a")
	require.True(t, created)
	again, created := reg.GetOrCreate("urn:a")
	assert.False(t, created)
	assert.Same(t, a, again)

	reg.GetOrCreate("urn:b")
	assert.Equal(t, []string{"urn:a", "urn:b"}, reg.URNs())

	assert.True(t, reg.Remove("urn:a"))
	assert.False(t, reg.Remove("urn:a"))
	assert.False(t, reg.Has("urn:a"))
	assert.True(t, reg.Has("urn:b"))
}

func TestCatalogueIsConsistent(t *testing.T) {
	seen := make(map[string]bool)
	for _, name := range FieldNames() {
		assert.False(t, seen[name], "duplicate field %s", name)
		seen[name] = true
	}

	for _, f := range Catalogue {
		assert.NotEmpty(t, f.Register, f.Name)
	}
	for _, f := range Parameters {
		assert.Equal(t, NoUpdate, f.Policy, f.Name)
		assert.Empty(t, f.Register, f.Name)
	}

	assert.True(t, seen["GTX1_CLUSTER_23"])
	assert.True(t, seen["OptoHybrid_0"])
	assert.True(t, seen["TTC_SPY"])
	assert.GreaterOrEqual(t, len(Catalogue), 40)
}
