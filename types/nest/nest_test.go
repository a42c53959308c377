package nest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenAndPack(t *testing.T) {
	n := MapOf(map[string]*Nest[int]{
		"b": Leaf(2),
		"a": List(Leaf(0), Leaf(1)),
	})
	assert.Equal(t, 3, n.NumLeaves())
	assert.Equal(t, []int{0, 1, 2}, n.Flatten(), "lists in order, map keys sorted")

	packed := Pack(n, []string{"x", "y", "z"})
	assert.True(t, SameStructure(n, packed))
	assert.Equal(t, []string{"x", "y", "z"}, packed.Flatten())
	require.Panics(t, func() { Pack(n, []string{"too", "few"}) })

	doubled := Map(n, func(v int) int { return 2 * v })
	assert.Equal(t, []int{0, 2, 4}, doubled.Flatten())
}

func TestListOf(t *testing.T) {
	n := ListOf("a", "b")
	assert.Equal(t, []string{"a", "b"}, n.Flatten())
	assert.False(t, n.IsLeaf())
	assert.True(t, ListOf(1).Flatten()[0] == 1)
}

func TestEqualAndSameStructure(t *testing.T) {
	eq := func(a, b int) bool { return a == b }
	assert.True(t, Equal(ListOf(1, 2), ListOf(1, 2), eq))
	assert.False(t, Equal(ListOf(1, 2), ListOf(2, 1), eq))
	assert.False(t, Equal(ListOf(1, 2), Leaf(1), eq), "structure matters")
	assert.False(t, SameStructure(ListOf(1, 2), ListOf(1, 2, 3)))
}

func TestJSONRoundTrip(t *testing.T) {
	for _, n := range []*Nest[int]{
		Leaf(7),
		ListOf(1, 2, 3),
		MapOf(map[string]*Nest[int]{"x": Leaf(1), "y": ListOf(2, 3)}),
		List[int](),
		MapOf(map[string]*Nest[int]{}),
	} {
		encoded, err := json.Marshal(n)
		require.NoError(t, err)
		var decoded Nest[int]
		require.NoError(t, json.Unmarshal(encoded, &decoded))
		assert.True(t, SameStructure(n, &decoded), "round trip of %s", n)
		assert.Equal(t, n.Flatten(), decoded.Flatten())
	}
}
