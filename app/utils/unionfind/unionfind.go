package unionfind

// UnionFind 按秩合并加路径压缩的并查集
type UnionFind struct {
	parent []int
	rank   []int
}

// New 创建 n 个独立元素的并查集
func New(n int) *UnionFind {
	uf := &UnionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

// Find 查找根节点，同时做路径压缩
func (uf *UnionFind) Find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

// Union 合并两个元素所在集合
func (uf *UnionFind) Union(a, b int) {
	ra, rb := uf.Find(a), uf.Find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}

// Groups 返回所有大小不小于 minSize 的连通分量
func (uf *UnionFind) Groups(minSize int) [][]int {
	byRoot := make(map[int][]int)
	for i := range uf.parent {
		root := uf.Find(i)
		byRoot[root] = append(byRoot[root], i)
	}

	var groups [][]int
	for _, members := range byRoot {
		if len(members) >= minSize {
			groups = append(groups, members)
		}
	}
	return groups
}
