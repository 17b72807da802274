package dbscan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// 一维标量距离，测试里比余弦直观
func scalarDist(a, b []float32) float64 {
	return math.Abs(float64(a[0]) - float64(b[0]))
}

func points(vals ...float32) [][]float32 {
	out := make([][]float32, len(vals))
	for i, v := range vals {
		out[i] = []float32{v}
	}
	return out
}

func TestTwoClustersAndNoise(t *testing.T) {
	// 两团密集点加一个远离的孤点
	pts := points(1, 1.5, 2, 2.5, 10, 10.5, 11, 50)

	labels := Run(pts, 1.0, 2, scalarDist)
	clusters := Clusters(labels)

	assert.Len(t, clusters, 2)
	assert.Equal(t, Noise, labels[7])

	assert.Equal(t, labels[0], labels[3])
	assert.Equal(t, labels[4], labels[6])
	assert.NotEqual(t, labels[0], labels[4])
}

func TestBorderPointJoinsCluster(t *testing.T) {
	// 3.0 不是核心点（邻居不足），但在核心点 2.0 的邻域内，应作为边界点入簇
	pts := points(1, 1.5, 2, 3)

	labels := Run(pts, 1.0, 3, scalarDist)

	assert.NotEqual(t, Noise, labels[3])
	assert.Equal(t, labels[2], labels[3])
}

func TestAllNoise(t *testing.T) {
	pts := points(1, 10, 20, 30)

	labels := Run(pts, 1.0, 2, scalarDist)
	for _, l := range labels {
		assert.Equal(t, Noise, l)
	}
	assert.Empty(t, Clusters(labels))
}

func TestEmptyInput(t *testing.T) {
	labels := Run(nil, 1.0, 2, scalarDist)
	assert.Empty(t, labels)
}
