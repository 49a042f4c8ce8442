package stores

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tencentyun/cos-go-sdk-v5"
)

// COSStore 腾讯云对象存储，Endpoint 为完整桶地址
// 如 https://sos-archive-1250000000.cos.ap-mumbai.myqcloud.com
type COSStore struct {
	cli *cos.Client
}

func NewCOSStore(cfg Config) (*COSStore, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	cli := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Timeout: 30 * time.Second,
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		},
	})
	return &COSStore{cli: cli}, nil
}

func (s *COSStore) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	opt := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType:   contentType,
			ContentLength: size,
		},
	}
	_, err := s.cli.Object.Put(ctx, key, r, opt)
	return err
}

func (s *COSStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.cli.Object.IsExist(ctx, key)
}
