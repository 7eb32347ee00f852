package cloud

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	"github.com/cuemby/nodeboot/pkg/config"
	"github.com/cuemby/nodeboot/pkg/objectstore"
)

// IMDSAPI is the subset of the EC2 instance metadata client in use
type IMDSAPI interface {
	GetUserData(ctx context.Context, params *imds.GetUserDataInput, optFns ...func(*imds.Options)) (*imds.GetUserDataOutput, error)
	GetMetadata(ctx context.Context, params *imds.GetMetadataInput, optFns ...func(*imds.Options)) (*imds.GetMetadataOutput, error)
	GetRegion(ctx context.Context, params *imds.GetRegionInput, optFns ...func(*imds.Options)) (*imds.GetRegionOutput, error)
}

// EC2 implements Interface for Amazon EC2
type EC2 struct {
	imds IMDSAPI

	// NewStore builds the S3 connection; replaced in tests
	NewStore func(ctx context.Context, cfg objectstore.S3Config) (objectstore.Store, error)

	mu    sync.Mutex
	store objectstore.Store
}

// NewEC2 creates an EC2 provider using the given metadata client
func NewEC2(client IMDSAPI) *EC2 {
	return &EC2{
		imds: client,
		NewStore: func(ctx context.Context, cfg objectstore.S3Config) (objectstore.Store, error) {
			return objectstore.NewS3StoreFromConfig(ctx, cfg)
		},
	}
}

func (e *EC2) Type() string {
	return TypeEC2
}

// UserData reads and parses the instance user data. An instance launched
// without user data yields an empty mapping.
func (e *EC2) UserData(ctx context.Context) (map[string]interface{}, error) {
	out, err := e.imds.GetUserData(ctx, &imds.GetUserDataInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get user data: %w", err)
	}
	defer out.Content.Close()

	data, err := io.ReadAll(out.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to read user data: %w", err)
	}
	return config.ParseUserData(data)
}

func (e *EC2) Zone(ctx context.Context) string {
	zone, err := metadata(ctx, e.imds, "placement/availability-zone")
	if err != nil {
		return ""
	}
	return zone
}

func (e *EC2) ImageID(ctx context.Context) string {
	ami, err := metadata(ctx, e.imds, "ami-id")
	if err != nil {
		return ""
	}
	return ami
}

// ObjectStore returns an S3 connection built from the configuration
// credentials. The region comes from configuration or instance metadata.
func (e *EC2) ObjectStore(ctx context.Context, cfg *config.Configuration) (objectstore.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store != nil {
		return e.store, nil
	}

	region := cfg.GetString(config.KeyRegion, "")
	if region == "" {
		if out, err := e.imds.GetRegion(ctx, &imds.GetRegionInput{}); err == nil {
			region = out.Region
		}
	}

	store, err := e.NewStore(ctx, objectstore.S3Config{
		Region:    region,
		AccessKey: cfg.GetString(config.KeyAccessKey, ""),
		SecretKey: cfg.GetString(config.KeySecretKey, ""),
		Endpoint:  cfg.GetString(config.KeyS3Endpoint, ""),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 connection: %w", err)
	}
	e.store = store
	return store, nil
}

// SupportsIntegrityValidation is true: S3 returns content checksums
func (e *EC2) SupportsIntegrityValidation() bool {
	return true
}

func (e *EC2) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	return err
}

func metadata(ctx context.Context, client IMDSAPI, path string) (string, error) {
	out, err := client.GetMetadata(ctx, &imds.GetMetadataInput{Path: path})
	if err != nil {
		return "", err
	}
	defer out.Content.Close()

	data, err := io.ReadAll(out.Content)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
