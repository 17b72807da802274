package phash

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func uniformImage(c uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, color.Gray{Y: c})
		}
	}
	return img
}

func gradientImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(255 - x*3)})
		}
	}
	return img
}

func TestDHashDeterministic(t *testing.T) {
	a := DHash(gradientImage())
	b := DHash(gradientImage())

	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
	assert.Equal(t, 0, Distance(a, b))
}

func TestDHashUniformIsZero(t *testing.T) {
	// 纯色图没有任何相邻亮度差
	assert.Equal(t, "0000000000000000", DHash(uniformImage(128)))
	// 不同的纯色哈希相同，感知上它们就是同一张图
	assert.Equal(t, DHash(uniformImage(10)), DHash(uniformImage(200)))
}

func TestDHashDistinguishesContent(t *testing.T) {
	d := Distance(DHash(uniformImage(128)), DHash(gradientImage()))
	assert.Greater(t, d, 30)
}

func TestDistanceKnownValues(t *testing.T) {
	assert.Equal(t, 0, Distance("00000000000000ff", "00000000000000ff"))
	assert.Equal(t, 4, Distance("0000000000000000", "000000000000000f"))
	assert.Equal(t, 8, Distance("0000000000000000", "00000000000000ff"))
	assert.Equal(t, 64, Distance("0000000000000000", "ffffffffffffffff"))
}

func TestDistanceRejectsBadFormat(t *testing.T) {
	assert.Equal(t, -1, Distance("", "0000000000000000"))
	assert.Equal(t, -1, Distance("0000000000000000", "abc"))
	assert.Equal(t, -1, Distance("zzzzzzzzzzzzzzzz", "0000000000000000"))
}
