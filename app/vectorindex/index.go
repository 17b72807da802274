package vectorindex

import (
	"math"
	"sort"
	"sync"
)

// Match 一次最近邻查询的单个结果
type Match struct {
	ID         uint
	Similarity float64 // 余弦相似度，越大越相似
}

// Index 以人物 ID 为键的内存余弦相似度索引。
// 质心持久化在 persons 表里，进程启动时整体重建，
// 查询全量线性扫描，人物数量为库级规模（几百到几千）。
type Index struct {
	mu      sync.RWMutex
	vectors map[uint][]float32
}

// New 创建空索引
func New() *Index {
	return &Index{
		vectors: make(map[uint][]float32),
	}
}

// Set 写入或替换一个向量，内部保存归一化副本
func (idx *Index) Set(id uint, vec []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors[id] = Normalize(vec)
}

// Delete 删除一个向量
func (idx *Index) Delete(id uint) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.vectors, id)
}

// Len 向量数量
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// Search 返回与 vec 余弦相似度最高的 k 个结果，filter 不为空时只保留其返回 true 的候选
func (idx *Index) Search(vec []float32, k int, filter func(id uint) bool) []Match {
	query := Normalize(vec)

	idx.mu.RLock()
	matches := make([]Match, 0, len(idx.vectors))
	for id, v := range idx.vectors {
		if filter != nil && !filter(id) {
			continue
		}
		matches = append(matches, Match{ID: id, Similarity: Cosine(query, v)})
	}
	idx.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Cosine 余弦相似度
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CosineDistance 余弦距离 = 1 - 余弦相似度
func CosineDistance(a, b []float32) float64 {
	return 1 - Cosine(a, b)
}

// Normalize 返回单位化副本，零向量原样返回
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Mean 计算一组向量的归一化均值（质心），空集合返回 nil
func Mean(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			sum[i] += float64(v[i])
		}
	}
	mean := make([]float32, dim)
	for i := range sum {
		mean[i] = float32(sum[i] / float64(len(vecs)))
	}
	return Normalize(mean)
}
