package credentials

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// KeyLoader returns the raw service-account key document.
type KeyLoader interface {
	Load(ctx context.Context) ([]byte, error)
}

type KeyLoaderFunc func(ctx context.Context) ([]byte, error)

func (f KeyLoaderFunc) Load(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

type FileKeyLoader struct {
	path string
}

func NewFileKeyLoader(path string) *FileKeyLoader {
	return &FileKeyLoader{path: path}
}

func (l *FileKeyLoader) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return data, nil
}

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerKeyLoader reads the key document from AWS Secrets Manager and
// keeps it for ttl to avoid a round trip on every token refresh.
type SecretsManagerKeyLoader struct {
	client secretsManagerAPI
	name   string
	ttl    time.Duration

	mu        sync.RWMutex
	value     []byte
	expiresAt time.Time
}

func NewSecretsManagerKeyLoader(ctx context.Context, region, name string) (*SecretsManagerKeyLoader, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewSecretsManagerKeyLoaderWithClient(secretsmanager.NewFromConfig(cfg), name), nil
}

func NewSecretsManagerKeyLoaderWithClient(client secretsManagerAPI, name string) *SecretsManagerKeyLoader {
	return &SecretsManagerKeyLoader{
		client: client,
		name:   name,
		ttl:    5 * time.Minute,
	}
}

func (l *SecretsManagerKeyLoader) SetCacheTTL(ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ttl = ttl
}

func (l *SecretsManagerKeyLoader) Load(ctx context.Context) ([]byte, error) {
	l.mu.RLock()
	if l.value != nil && time.Now().Before(l.expiresAt) {
		value := l.value
		l.mu.RUnlock()
		return value, nil
	}
	l.mu.RUnlock()

	result, err := l.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(l.name),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", l.name, err)
	}

	var value []byte
	switch {
	case result.SecretString != nil:
		value = []byte(*result.SecretString)
	case len(result.SecretBinary) > 0:
		value = result.SecretBinary
	default:
		return nil, fmt.Errorf("secret %s has no value", l.name)
	}

	l.mu.Lock()
	l.value = value
	l.expiresAt = time.Now().Add(l.ttl)
	l.mu.Unlock()

	return value, nil
}
