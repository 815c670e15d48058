package config

import "sync"

var (
	minioOnce   sync.Once
	minioConfig *MinioConfig
)

type MinioConfig struct {
	AccessKey  string `envconfig:"MINIO_ACCESS_KEY"`
	SecretKey  string `envconfig:"MINIO_SECRET_KEY"`
	Endpoint   string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	UseSSL     bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	Region     string `envconfig:"MINIO_REGION"`
	BucketName string `envconfig:"MINIO_BUCKET_NAME" default:"organizer"`
}

func GetMinioConfig() *MinioConfig {
	minioOnce.Do(func() {
		minioConfig = &MinioConfig{}
		mustProcess("", minioConfig)
	})
	return minioConfig
}
