// Package imaging 负责上传图片的校验、解码与张量化。
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"github.com/rushteam/oralcare/core"
)

// 分类器输入分辨率
const (
	DefaultWidth  = 224
	DefaultHeight = 224
)

// ChannelOrder 指定张量最后一维的通道顺序
type ChannelOrder string

const (
	RGB ChannelOrder = "rgb"
	BGR ChannelOrder = "bgr"
)

// allowedExtensions 允许上传的扩展名（不区分大小写）
var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

// 上传校验错误，消息可直接返回给客户端
var (
	ErrImageMissing   = core.NewDomainError(core.ModuleImage, core.ErrorCodeInvalidInput, "Image file missing")
	ErrNoSelectedFile = core.NewDomainError(core.ModuleImage, core.ErrorCodeInvalidInput, "No selected file")
	ErrTypeNotAllowed = core.NewDomainError(core.ModuleImage, core.ErrorCodeInvalidInput, "File type not allowed. Please upload PNG or JPG.")
)

// AllowedExtension 判断文件名的扩展名是否为 png/jpg/jpeg
func AllowedExtension(filename string) bool {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	return allowedExtensions[strings.ToLower(ext)]
}

// ValidateUpload 校验上传的文件名与内容，校验失败时不应调用任何模型。
func ValidateUpload(filename string, data []byte) error {
	if filename == "" {
		return ErrNoSelectedFile
	}
	if !AllowedExtension(filename) {
		return ErrTypeNotAllowed
	}
	if len(data) == 0 {
		return ErrImageMissing
	}
	return nil
}

// Decode 解码 png/jpeg 图片。解码失败属于推理失败而非输入错误。
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", core.WrapDomainError(core.ModuleImage, core.ErrorCodeInternalError, "decode image", err)
	}
	if format != "png" && format != "jpeg" {
		return nil, "", core.NewDomainError(core.ModuleImage, core.ErrorCodeInternalError, fmt.Sprintf("unsupported image encoding: %s", format))
	}
	return img, format, nil
}

// Preprocessor 把图片缩放并归一化为分类器输入张量。
type Preprocessor struct {
	Width        int
	Height       int
	ChannelOrder ChannelOrder
}

// Option 配置 Preprocessor
type Option func(*Preprocessor)

// WithSize 设置目标分辨率
func WithSize(width, height int) Option {
	return func(p *Preprocessor) {
		p.Width = width
		p.Height = height
	}
}

// WithChannelOrder 设置通道顺序
func WithChannelOrder(order ChannelOrder) Option {
	return func(p *Preprocessor) {
		if order == RGB || order == BGR {
			p.ChannelOrder = order
		}
	}
}

// NewPreprocessor 创建预处理器，默认 224x224、RGB。
func NewPreprocessor(opts ...Option) *Preprocessor {
	p := &Preprocessor{
		Width:        DefaultWidth,
		Height:       DefaultHeight,
		ChannelOrder: RGB,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Shape 返回输出张量形状 [1,H,W,3]
func (p *Preprocessor) Shape() []int64 {
	return []int64{1, int64(p.Height), int64(p.Width), 3}
}

// Process 解码并张量化原始图片字节
func (p *Preprocessor) Process(data []byte) (*core.Tensor, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return p.ToTensor(img), nil
}

// ToTensor 双线性缩放到目标分辨率，像素值除以 255 转为 float32，布局为 NHWC。
func (p *Preprocessor) ToTensor(img image.Image) *core.Tensor {
	dst := image.NewNRGBA(image.Rect(0, 0, p.Width, p.Height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	t := core.NewTensor(p.Shape()...)
	i := 0
	for y := 0; y < p.Height; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+p.Width*4]
		for x := 0; x < p.Width; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			if p.ChannelOrder == BGR {
				r, b = b, r
			}
			t.Data[i] = float32(r) / 255
			t.Data[i+1] = float32(g) / 255
			t.Data[i+2] = float32(b) / 255
			i += 3
		}
	}
	return t
}

// DataURL 把原始图片编码为 data URL，mime 为空时按 image/jpeg 处理
func DataURL(mime string, data []byte) string {
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
