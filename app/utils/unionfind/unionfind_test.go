package unionfind

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnionFind(t *testing.T) {
	uf := New(6)

	uf.Union(0, 1)
	uf.Union(1, 2)
	uf.Union(3, 4)

	assert.Equal(t, uf.Find(0), uf.Find(2))
	assert.Equal(t, uf.Find(3), uf.Find(4))
	assert.NotEqual(t, uf.Find(0), uf.Find(3))
	assert.NotEqual(t, uf.Find(5), uf.Find(0))
}

func TestGroupsMinSize(t *testing.T) {
	uf := New(7)
	uf.Union(0, 1)
	uf.Union(1, 2)
	uf.Union(3, 4)
	// 5 和 6 是单元素集合

	groups := uf.Groups(2)
	assert.Len(t, groups, 2)

	sizes := make(map[int]int)
	for _, g := range groups {
		sizes[len(g)]++
	}
	assert.Equal(t, 1, sizes[3])
	assert.Equal(t, 1, sizes[2])

	// 单元素集合也算组
	all := uf.Groups(1)
	assert.Len(t, all, 4)
}

func TestUnionIdempotent(t *testing.T) {
	uf := New(3)
	uf.Union(0, 1)
	uf.Union(0, 1)
	uf.Union(1, 0)

	assert.Len(t, uf.Groups(2), 1)
}
