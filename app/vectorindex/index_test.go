package vectorindex

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchOrdering(t *testing.T) {
	idx := New()
	idx.Set(1, []float32{1, 0, 0, 0})
	idx.Set(2, []float32{0, 1, 0, 0})
	idx.Set(3, []float32{1, 0.2, 0, 0})

	matches := idx.Search([]float32{1, 0, 0, 0}, 2, nil)

	assert.Len(t, matches, 2)
	assert.Equal(t, uint(1), matches[0].ID)
	assert.Equal(t, uint(3), matches[1].ID)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestSearchFilter(t *testing.T) {
	idx := New()
	idx.Set(1, []float32{1, 0})
	idx.Set(2, []float32{0.9, 0.1})

	matches := idx.Search([]float32{1, 0}, 5, func(id uint) bool {
		return id != 1
	})

	assert.Len(t, matches, 1)
	assert.Equal(t, uint(2), matches[0].ID)
}

func TestSetReplacesAndDelete(t *testing.T) {
	idx := New()
	idx.Set(7, []float32{1, 0})
	idx.Set(7, []float32{0, 1})
	assert.Equal(t, 1, idx.Len())

	matches := idx.Search([]float32{0, 1}, 1, nil)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)

	idx.Delete(7)
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Search([]float32{0, 1}, 1, nil))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// 长度不匹配和零向量不报错，按不相似处理
	assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{1}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
}

func TestMeanIsNormalized(t *testing.T) {
	mean := Mean([][]float32{
		{2, 0},
		{0, 2},
	})

	var norm float64
	for _, v := range mean {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
	assert.InDelta(t, mean[0], mean[1], 1e-6)

	assert.Nil(t, Mean(nil))
}
