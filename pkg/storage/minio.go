// Package storage 提供了创建对象存储（MinIO / S3）客户端的功能。
package storage

import (
	"context"

	"datavault-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options 描述一个对象存储桶的连接参数。
type Options struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// NewMinioClient 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinioClient(ctx context.Context, opts Options) (*minio.Client, error) {
	// 1. 初始化 MinIO 客户端
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, err
	}

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", opts.Bucket)
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, err
		}
		log.Infof("存储桶 '%s' 创建成功", opts.Bucket)
	}
	return client, nil
}
