// Package imaging はアップロード画像を推論と保存に適した形式へ正規化する。
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"

	// PNGとGIFのデコーダを登録する
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxDimension は正規化後の長辺の最大ピクセル数。
	MaxDimension = 1024
	// JPEGQuality は正規化後のJPEG品質。
	JPEGQuality = 70
	// MaxUploadBytes はアップロード画像の最大サイズ。
	MaxUploadBytes = 10 << 20
	// OutputMIME は正規化後の画像のMIMEタイプ。
	OutputMIME = "image/jpeg"
)

// ErrUnsupported は画像として扱えない入力を表す。
var ErrUnsupported = errors.New("unsupported image")

// allowedMIME は受け付ける入力形式。クライアントのヘッダではなく先頭バイトで判定する。
var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Normalized は正規化済みの画像データ。
type Normalized struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Normalize は画像を読み込み、長辺をMaxDimension以下に縮小してJPEGで再エンコードする。
func Normalize(r io.Reader) (*Normalized, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("画像の読み込みに失敗しました: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrUnsupported, MaxUploadBytes)
	}
	if detected := http.DetectContentType(data); !allowedMIME[detected] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	img = fit(img, MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("JPEGのエンコードに失敗しました: %w", err)
	}
	b := img.Bounds()
	return &Normalized{Data: buf.Bytes(), MIME: OutputMIME, Width: b.Dx(), Height: b.Dy()}, nil
}

// fit は縦横比を保ったまま長辺がmaxDim以下になるよう縮小する。
func fit(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	newW, newH := maxDim, maxDim
	if w > h {
		newH = max(1, h*maxDim/w)
	} else {
		newW = max(1, w*maxDim/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
