// Package imagestore はアイテム画像の永続保存と、推論用の画像解決を提供する。
package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound は指定キーのオブジェクトが存在しないことを表す。
var ErrNotFound = errors.New("imagestore: object not found")

// Store は画像オブジェクトの永続ストレージのインターフェース。
type Store interface {
	// Put はオブジェクトを保存し、公開URLを返す。
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get はオブジェクトを取得する。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, key string) ([]byte, error)
}

// S3Config はS3互換ストレージの接続設定。
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	PublicURL string
}

// S3Store はS3互換ストレージ（Cloudflare R2を含む）に画像を保存する。
type S3Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

var _ Store = (*S3Store)(nil)

// maxObjectBytes はGetで読み込むオブジェクトの最大サイズ。
const maxObjectBytes = 16 << 20

// NewS3Store はS3Storeの新しいインスタンスを生成する。
func NewS3Store(cfg S3Config) *S3Store {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	client := s3.New(s3.Options{
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		Region:       region,
		UsePathStyle: true,
	})
	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}
}

// Put はオブジェクトを保存し、公開URLを返す。
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("画像のアップロードに失敗しました: %w", err)
	}
	return s.URL(key), nil
}

// Get はオブジェクトを取得する。
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("画像の取得に失敗しました: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxObjectBytes))
	if err != nil {
		return nil, fmt.Errorf("画像の読み込みに失敗しました: %w", err)
	}
	return data, nil
}

// URL はキーに対応する公開URLを返す。公開URLが未設定の場合は空文字。
func (s *S3Store) URL(key string) string {
	if s.publicURL == "" {
		return ""
	}
	return s.publicURL + "/" + key
}
