package config

import "sync"

var (
	s3Once   sync.Once
	s3Config *S3Config
)

type S3Config struct {
	BucketName string `envconfig:"AWS_S3_BUCKET_NAME"`
	Region     string `envconfig:"AWS_REGION" default:"us-east-1"`
	Endpoint   string `envconfig:"AWS_ENDPOINT"`
	AccessKey  string `envconfig:"AWS_ACCESS_KEY"`
	SecretKey  string `envconfig:"AWS_SECRET_KEY"`
	PathStyle  bool   `envconfig:"AWS_S3_PATH_STYLE" default:"false"`
}

func GetS3Config() *S3Config {
	s3Once.Do(func() {
		s3Config = &S3Config{}
		mustProcess("", s3Config)
	})
	return s3Config
}
