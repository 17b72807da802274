package dbscan

// Noise 噪声点的簇标签
const Noise = -1

// DistanceFunc 两个向量间的距离
type DistanceFunc func(a, b []float32) float64

// Run 对向量集合做 DBSCAN 密度聚类，返回每个点的簇标签（Noise 表示噪声）。
// eps 为邻域半径，minPts 为核心点的最小邻居数（含自身）。
// 点数为库级规模（一批最多几千），邻域查询用朴素全比较。
func Run(points [][]float32, eps float64, minPts int, dist DistanceFunc) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n == 0 {
		return labels
	}

	visited := make([]bool, n)
	cluster := 0

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(points, i, eps, dist)
		if len(neighbors) < minPts {
			continue // 暂记为噪声，后续可能被其他核心点吸收为边界点
		}

		// 从核心点展开一个新簇
		labels[i] = cluster
		for idx := 0; idx < len(neighbors); idx++ {
			j := neighbors[idx]
			if !visited[j] {
				visited[j] = true
				jn := regionQuery(points, j, eps, dist)
				if len(jn) >= minPts {
					neighbors = append(neighbors, jn...)
				}
			}
			if labels[j] == Noise {
				labels[j] = cluster
			}
		}
		cluster++
	}

	return labels
}

// regionQuery 返回 eps 邻域内所有点的下标（含自身）
func regionQuery(points [][]float32, i int, eps float64, dist DistanceFunc) []int {
	var neighbors []int
	for j := range points {
		if dist(points[i], points[j]) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

// Clusters 把标签数组整理为 簇编号 -> 成员下标 的映射，不含噪声点
func Clusters(labels []int) map[int][]int {
	clusters := make(map[int][]int)
	for i, label := range labels {
		if label != Noise {
			clusters[label] = append(clusters[label], i)
		}
	}
	return clusters
}
