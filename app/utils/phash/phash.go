package phash

import (
	"fmt"
	"image"
	"math/bits"

	"github.com/disintegration/imaging"
)

// DHash 计算图片的差值感知哈希，返回 16 位十六进制字符串。
// 缩放到 9x8 灰度图后逐行比较相邻像素亮度，共 64 位。
func DHash(img image.Image) string {
	gray := imaging.Grayscale(imaging.Resize(img, 9, 8, imaging.Lanczos))

	var hash uint64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			left, _, _, _ := gray.At(x, y).RGBA()
			right, _, _, _ := gray.At(x+1, y).RGBA()
			hash <<= 1
			if left > right {
				hash |= 1
			}
		}
	}
	return fmt.Sprintf("%016x", hash)
}

// Distance 两个十六进制哈希的汉明距离，格式不合法或为空返回 -1
func Distance(a, b string) int {
	va, err := parse(a)
	if err != nil {
		return -1
	}
	vb, err := parse(b)
	if err != nil {
		return -1
	}
	return bits.OnesCount64(va ^ vb)
}

func parse(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("非法哈希长度: %d", len(s))
	}
	var v uint64
	_, err := fmt.Sscanf(s, "%016x", &v)
	return v, err
}
