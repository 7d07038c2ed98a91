package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"tush00nka/bbbab_sync/internal/config"
	"tush00nka/bbbab_sync/internal/model"
)

// ErrExternalAttachment вложение лежит не в нашем хранилище
var ErrExternalAttachment = errors.New("attachment is not stored in our bucket")

// MediaService читающая сторона хранилища вложений: предзагрузка
// и презайн-ссылки для локального UI. Загрузкой занимается бэкенд.
type MediaService struct {
	config     *config.Config
	s3Client   *s3.Client
	downloader *manager.Downloader
}

func NewMediaService(cfg *config.Config) (*MediaService, error) {
	// Кастомный endpoint для MinIO
	s3Opts := []func(*s3.Options){}

	if cfg.S3Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true // Обязательно для MinIO
		})
	}

	credsProvider := credentials.NewStaticCredentialsProvider(
		cfg.S3AccessKeyID,
		cfg.S3SecretAccessKey,
		"",
	)

	awsCfg := aws.Config{
		Region:      cfg.S3Region,
		Credentials: credsProvider,
	}

	s3Client := s3.NewFromConfig(awsCfg, s3Opts...)

	service := &MediaService{
		config:     cfg,
		s3Client:   s3Client,
		downloader: manager.NewDownloader(s3Client),
	}

	log.Printf("media service initialized with endpoint: %s", cfg.S3Endpoint)
	return service, nil
}

// attachmentKey ключ объекта: URL вида s3://bucket/key или просто key.
// Абсолютные http-ссылки — чужие CDN, их не трогаем.
func (s *MediaService) attachmentKey(att model.Attachment) (string, error) {
	switch {
	case strings.HasPrefix(att.URL, "s3://"):
		rest := strings.TrimPrefix(att.URL, "s3://")
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket != s.config.S3BucketName {
			return "", ErrExternalAttachment
		}
		return key, nil
	case strings.HasPrefix(att.URL, "http://"), strings.HasPrefix(att.URL, "https://"):
		return "", ErrExternalAttachment
	case att.URL != "":
		return strings.TrimPrefix(att.URL, "/"), nil
	}
	return "", errors.New("attachment has no url")
}

// PresignAttachment временная GET-ссылка для локального UI
func (s *MediaService) PresignAttachment(ctx context.Context, att model.Attachment, expires time.Duration) (string, error) {
	key, err := s.attachmentKey(att)
	if err != nil {
		return "", err
	}

	presignClient := s3.NewPresignClient(s.s3Client)

	request, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.S3BucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))

	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return request.URL, nil
}

// PrefetchAttachment скачивает вложение в память и возвращает метаданные
func (s *MediaService) PrefetchAttachment(ctx context.Context, conversationID, messageID uint, att model.Attachment) (*model.FileMetadata, []byte, error) {
	key, err := s.attachmentKey(att)
	if err != nil {
		return nil, nil, err
	}

	buf := manager.NewWriteAtBuffer(nil)
	n, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.config.S3BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download attachment: %w", err)
	}

	meta := &model.FileMetadata{
		ID:             uuid.New().String(),
		Filename:       att.Filename,
		Size:           n,
		ContentType:    http.DetectContentType(buf.Bytes()),
		S3Key:          key,
		S3Bucket:       s.config.S3BucketName,
		MessageID:      messageID,
		ConversationID: conversationID,
		CreatedAt:      time.Now(),
	}

	return meta, buf.Bytes(), nil
}

// HealthCheck проверка доступности хранилища
func (s *MediaService) HealthCheck(ctx context.Context) error {
	_, err := s.s3Client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	return nil
}
