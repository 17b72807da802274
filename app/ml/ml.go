package ml

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/url"

	"resty.dev/v3"
)

// DetectedFace 推理服务返回的单个人脸
type DetectedFace struct {
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	W          float64   `json:"w"`
	H          float64   `json:"h"`
	Confidence float64   `json:"confidence"`
	Embedding  []float32 `json:"embedding"`
}

// TagResult 推理服务返回的单个标签
type TagResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// FaceDetector 给定像素返回零个或多个人脸（框+特征向量）
type FaceDetector interface {
	DetectFaces(ctx context.Context, img image.Image) ([]DetectedFace, error)
}

// Embedder 给定像素返回定长整图向量
type Embedder interface {
	EmbedImage(ctx context.Context, img image.Image) ([]float32, error)
}

// Tagger 给定像素返回标签列表，labels 不为空时限定候选标签
type Tagger interface {
	TagImage(ctx context.Context, img image.Image, labels []string) ([]TagResult, error)
}

// Client 推理服务客户端，模型细节对本服务完全不透明
type Client struct {
	client *resty.Client
}

// NewClient 创建推理服务客户端
func NewClient(baseURL string) *Client {
	client := resty.New()
	client.SetBaseURL(baseURL)

	return &Client{client: client}
}

type detectResponse struct {
	Faces []DetectedFace `json:"faces"`
}

// DetectFaces 调用 /detect 识别人脸
func (c *Client) DetectFaces(ctx context.Context, img image.Image) ([]DetectedFace, error) {
	var response detectResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetContentType("image/jpeg").
		SetBody(encodeJPEG(img)).
		SetResult(&response).
		Post("/detect")

	if err != nil {
		return nil, fmt.Errorf("请求人脸检测失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("人脸检测返回异常状态: %d %s", resp.StatusCode(), resp.String())
	}

	return response.Faces, nil
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedImage 调用 /embed 计算整图向量
func (c *Client) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	var response embedResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetContentType("image/jpeg").
		SetBody(encodeJPEG(img)).
		SetResult(&response).
		Post("/embed")

	if err != nil {
		return nil, fmt.Errorf("请求整图向量失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("整图向量返回异常状态: %d %s", resp.StatusCode(), resp.String())
	}

	return response.Embedding, nil
}

type tagResponse struct {
	Tags []TagResult `json:"tags"`
}

// TagImage 调用 /tag 识别图片内容标签
func (c *Client) TagImage(ctx context.Context, img image.Image, labels []string) ([]TagResult, error) {
	var response tagResponse

	req := c.client.R().
		SetContext(ctx).
		SetContentType("image/jpeg").
		SetBody(encodeJPEG(img)).
		SetResult(&response)
	if len(labels) > 0 {
		req.SetQueryParamsFromValues(url.Values{"label": labels})
	}

	resp, err := req.Post("/tag")
	if err != nil {
		return nil, fmt.Errorf("请求图片标签失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("图片标签返回异常状态: %d %s", resp.StatusCode(), resp.String())
	}

	return response.Tags, nil
}

// encodeJPEG 把图片编码为 JPEG 字节流
func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}
