package service

import (
	"fmt"
	"math"
	"testing"

	"photo-fusion/app/model"
	"photo-fusion/app/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClusterFixture(t *testing.T) (*ClusterService, *Orchestrator) {
	t.Helper()
	o, db := newTestOrchestrator(t)
	svc := NewClusterService(db, o.cfg, newTestLogger(), o.lock, vectorindex.New())
	return svc, o
}

func createMedia(t *testing.T, svc *ClusterService, n int) []model.Media {
	t.Helper()
	out := make([]model.Media, n)
	for i := range out {
		out[i] = model.Media{
			Path:      fmt.Sprintf("/photos/m%d_%s.jpg", i, t.Name()),
			MediaType: model.MediaTypeImage,
		}
		require.NoError(t, svc.db.Create(&out[i]).Error)
	}
	return out
}

func createFace(t *testing.T, svc *ClusterService, mediaID uint, emb []float32) model.Face {
	t.Helper()
	f := model.Face{MediaID: mediaID, Embedding: emb}
	require.NoError(t, svc.db.Create(&f).Error)
	return f
}

func createPerson(t *testing.T, svc *ClusterService, name string, appearances int, centroid []float32) model.Person {
	t.Helper()
	p := model.Person{Name: name, AppearanceCount: appearances, Centroid: centroid}
	require.NoError(t, svc.db.Create(&p).Error)
	svc.index.Set(p.ID, centroid)
	return p
}

func norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func TestAssignToExistingPerson(t *testing.T) {
	svc, o := newClusterFixture(t)

	p := createPerson(t, svc, "甲", 5, []float32{1, 0, 0, 0})
	media := createMedia(t, svc, 1)
	face := createFace(t, svc, media[0].ID, []float32{0.98, 0.02, 0, 0})

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeClusterPersons)))

	var got model.Face
	require.NoError(t, svc.db.First(&got, face.ID).Error)
	require.NotNil(t, got.PersonID)
	assert.Equal(t, p.ID, *got.PersonID)

	// 出现次数和质心按归属人脸重算
	var person model.Person
	require.NoError(t, svc.db.First(&person, p.ID).Error)
	assert.Equal(t, 1, person.AppearanceCount)
	assert.InDelta(t, 1.0, norm(person.Centroid), 1e-5)
}

func TestAssignRejectedBelowThreshold(t *testing.T) {
	svc, o := newClusterFixture(t)

	createPerson(t, svc, "甲", 5, []float32{1, 0, 0, 0})
	media := createMedia(t, svc, 1)
	// 相似度 0.3，低于 0.4 的接受阈值
	face := createFace(t, svc, media[0].ID, []float32{0.3, float32(math.Sqrt(1 - 0.09)), 0, 0})

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeClusterPersons)))

	var got model.Face
	require.NoError(t, svc.db.First(&got, face.ID).Error)
	assert.Nil(t, got.PersonID)
}

func TestAssignRejectedByMargin(t *testing.T) {
	svc, o := newClusterFixture(t)

	// 两个候选的相似度 0.50 和 0.47，间隔 0.03 小于 0.05，吃不准就不归类
	createPerson(t, svc, "甲", 5, []float32{0.50, float32(math.Sqrt(1 - 0.50*0.50)), 0, 0})
	createPerson(t, svc, "乙", 5, []float32{0.47, float32(math.Sqrt(1 - 0.47*0.47)), 0, 0})
	media := createMedia(t, svc, 1)
	face := createFace(t, svc, media[0].ID, []float32{1, 0, 0, 0})

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeClusterPersons)))

	var got model.Face
	require.NoError(t, svc.db.First(&got, face.ID).Error)
	assert.Nil(t, got.PersonID)
}

func TestAssignRejectedForImmaturePerson(t *testing.T) {
	svc, o := newClusterFixture(t)

	// 出现次数 1，低于最小出现次数 3，未成型的人物不吸收新人脸
	createPerson(t, svc, "甲", 1, []float32{1, 0, 0, 0})
	media := createMedia(t, svc, 1)
	face := createFace(t, svc, media[0].ID, []float32{0.99, 0.01, 0, 0})

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeClusterPersons)))

	var got model.Face
	require.NoError(t, svc.db.First(&got, face.ID).Error)
	assert.Nil(t, got.PersonID)
}

func TestClusterCreatesNewPerson(t *testing.T) {
	svc, o := newClusterFixture(t)

	media := createMedia(t, svc, 2)
	embeddings := [][]float32{
		{1, 0, 0, 0},
		{0.99, 0.01, 0, 0},
		{0.98, 0.02, 0, 0},
		{0.99, 0, 0.01, 0},
	}
	for i, emb := range embeddings {
		createFace(t, svc, media[i%2].ID, emb)
	}

	tc := newRunningTask(t, o, model.TaskTypeClusterPersons)
	require.NoError(t, svc.Run(tc))

	var persons []model.Person
	require.NoError(t, svc.db.Find(&persons).Error)
	require.Len(t, persons, 1)

	p := persons[0]
	assert.Equal(t, 4, p.AppearanceCount)
	assert.NotNil(t, p.ProfileFaceID)
	assert.NotEmpty(t, p.Name)
	assert.InDelta(t, 1.0, norm(p.Centroid), 1e-5)
	assert.Equal(t, 1, svc.index.Len())

	var bound int64
	require.NoError(t, svc.db.Model(&model.Face{}).
		Where("person_id = ?", p.ID).Count(&bound).Error)
	assert.Equal(t, int64(4), bound)

	assert.Equal(t, int64(4), tc.Processed())
}

func TestClusterRelaxesMinClusterSize(t *testing.T) {
	svc, o := newClusterFixture(t)

	// 初始最小簇大小 6 把 4 张人脸的簇过滤成噪声，
	// 放宽一轮（6*0.6=3）之后簇才能成立
	svc.cfg.Cluster.MinClusterSize = 6

	media := createMedia(t, svc, 2)
	embeddings := [][]float32{
		{1, 0, 0, 0},
		{0.99, 0.01, 0, 0},
		{0.98, 0.02, 0, 0},
		{0.99, 0, 0.01, 0},
		// 互相正交的孤立人脸，任何参数下都是噪声
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	for i, emb := range embeddings {
		createFace(t, svc, media[i%2].ID, emb)
	}

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeClusterPersons)))

	var persons []model.Person
	require.NoError(t, svc.db.Find(&persons).Error)
	require.Len(t, persons, 1)
	assert.Equal(t, 4, persons[0].AppearanceCount)
}

func TestClusterRejectsSingleMediaCluster(t *testing.T) {
	svc, o := newClusterFixture(t)

	// 全部来自同一媒体（比如连拍的同一个人），多样性不足不建人物
	media := createMedia(t, svc, 1)
	for i := 0; i < 4; i++ {
		createFace(t, svc, media[0].ID, []float32{1, float32(i) * 0.01, 0, 0})
	}

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeClusterPersons)))

	var count int64
	require.NoError(t, svc.db.Model(&model.Person{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestClusterIdempotentWithoutNewFaces(t *testing.T) {
	svc, o := newClusterFixture(t)

	media := createMedia(t, svc, 2)
	for i := 0; i < 4; i++ {
		createFace(t, svc, media[i%2].ID, []float32{1, float32(i) * 0.005, 0, 0})
	}

	require.NoError(t, svc.Run(newRunningTask(t, o, model.TaskTypeClusterPersons)))

	var before []model.Person
	require.NoError(t, svc.db.Find(&before).Error)
	require.Len(t, before, 1)

	tc := newRunningTask(t, o, model.TaskTypeClusterPersons)
	require.NoError(t, svc.Run(tc))

	var after []model.Person
	require.NoError(t, svc.db.Find(&after).Error)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Zero(t, tc.Processed())
}

func TestMergePersonsKeepsLargerSide(t *testing.T) {
	svc, _ := newClusterFixture(t)

	media := createMedia(t, svc, 5)
	big := createPerson(t, svc, "甲", 10, []float32{1, 0, 0, 0})
	small := createPerson(t, svc, "乙", 3, []float32{0.99, 0.01, 0, 0})

	bigID, smallID := big.ID, small.ID
	for i := 0; i < 3; i++ {
		f := createFace(t, svc, media[i].ID, []float32{1, 0, 0, 0})
		require.NoError(t, svc.db.Model(&f).Update("person_id", bigID).Error)
	}
	for i := 3; i < 5; i++ {
		f := createFace(t, svc, media[i].ID, []float32{0.99, 0.01, 0, 0})
		require.NoError(t, svc.db.Model(&f).Update("person_id", smallID).Error)
	}

	survivor, err := svc.MergePersons(small.ID, big.ID)
	require.NoError(t, err)
	assert.Equal(t, bigID, survivor)

	// 败者消失，人脸全部归于幸存者
	var gone int64
	svc.db.Model(&model.Person{}).Where("id = ?", smallID).Count(&gone)
	assert.Zero(t, gone)

	var bound int64
	require.NoError(t, svc.db.Model(&model.Face{}).
		Where("person_id = ?", bigID).Count(&bound).Error)
	assert.Equal(t, int64(5), bound)

	var p model.Person
	require.NoError(t, svc.db.First(&p, bigID).Error)
	assert.Equal(t, 5, p.AppearanceCount)
	assert.InDelta(t, 1.0, norm(p.Centroid), 1e-5)

	// 索引里只剩幸存者
	assert.Equal(t, 1, svc.index.Len())
	matches := svc.index.Search([]float32{1, 0, 0, 0}, 1, nil)
	require.Len(t, matches, 1)
	assert.Equal(t, bigID, matches[0].ID)
}

func TestMergePassBelowThresholdKeepsBoth(t *testing.T) {
	svc, o := newClusterFixture(t)

	media := createMedia(t, svc, 2)
	p1 := createPerson(t, svc, "甲", 3, []float32{1, 0, 0, 0})
	p2 := createPerson(t, svc, "乙", 3, []float32{0, 1, 0, 0})
	f1 := createFace(t, svc, media[0].ID, []float32{1, 0, 0, 0})
	require.NoError(t, svc.db.Model(&f1).Update("person_id", p1.ID).Error)
	f2 := createFace(t, svc, media[1].ID, []float32{0, 1, 0, 0})
	require.NoError(t, svc.db.Model(&f2).Update("person_id", p2.ID).Error)

	tc := newRunningTask(t, o, model.TaskTypeClusterPersons)
	require.NoError(t, svc.mergePass(tc, []uint{p1.ID, p2.ID}))

	var count int64
	require.NoError(t, svc.db.Model(&model.Person{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestRebuildRelations(t *testing.T) {
	svc, _ := newClusterFixture(t)

	media := createMedia(t, svc, 2)
	p1 := createPerson(t, svc, "甲", 2, []float32{1, 0})
	p2 := createPerson(t, svc, "乙", 2, []float32{0, 1})

	// 两人在两个媒体上同框
	for _, m := range media {
		f1 := createFace(t, svc, m.ID, []float32{1, 0})
		require.NoError(t, svc.db.Model(&f1).Update("person_id", p1.ID).Error)
		f2 := createFace(t, svc, m.ID, []float32{0, 1})
		require.NoError(t, svc.db.Model(&f2).Update("person_id", p2.ID).Error)
	}

	require.NoError(t, svc.rebuildRelations())

	var relations []model.PersonRelation
	require.NoError(t, svc.db.Find(&relations).Error)
	require.Len(t, relations, 1)
	assert.Equal(t, 2, relations[0].CoAppearances)
	assert.Less(t, relations[0].PersonAID, relations[0].PersonBID)

	// 重建是替换式的，重复执行不会累加
	require.NoError(t, svc.rebuildRelations())
	require.NoError(t, svc.db.Find(&relations).Error)
	require.Len(t, relations, 1)
	assert.Equal(t, 2, relations[0].CoAppearances)
}
