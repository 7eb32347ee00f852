package cloud

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	"github.com/cuemby/nodeboot/pkg/config"
	"github.com/cuemby/nodeboot/pkg/log"
	"github.com/cuemby/nodeboot/pkg/objectstore"
)

// Known cloud types
const (
	TypeEC2        = "ec2"
	TypeOpenStack  = "openstack"
	TypeOpenNebula = "opennebula"
	TypeDummy      = "dummy"
)

// Interface is the provider abstraction used during bootstrap
type Interface interface {
	// Type returns the cloud type name
	Type() string
	// UserData returns the provider supplied bootstrap configuration
	UserData(ctx context.Context) (map[string]interface{}, error)
	// Zone and ImageID are used for diagnostics only
	Zone(ctx context.Context) string
	ImageID(ctx context.Context) string
	// ObjectStore returns a connection to the provider object store
	ObjectStore(ctx context.Context, cfg *config.Configuration) (objectstore.Store, error)
	// SupportsIntegrityValidation reports whether object downloads can be
	// verified against a provider checksum
	SupportsIntegrityValidation() bool
	Close() error
}

// SupportsVolumes reports whether block storage volumes are available on
// the cloud type by default
func SupportsVolumes(cloudType string) bool {
	switch cloudType {
	case TypeOpenNebula, TypeDummy:
		return false
	default:
		return true
	}
}

// Options configure provider construction
type Options struct {
	// UserDataFile is read by providers without a metadata service
	UserDataFile string
	// DataDir holds local provider state such as the local object store
	DataDir string
	// IMDS overrides the EC2 metadata client
	IMDS IMDSAPI
	// DetectTimeout bounds the EC2 metadata check during detection
	DetectTimeout time.Duration
}

const defaultDetectTimeout = 2 * time.Second

// Detect returns the cloud type. An explicit type wins; otherwise the EC2
// instance metadata service is queried and dummy is assumed when it does
// not answer.
func Detect(ctx context.Context, explicit string, opts Options) string {
	logger := log.WithComponent("cloud")

	if explicit != "" {
		logger.Debug().Str("cloud_type", explicit).Msg("Using configured cloud type")
		return explicit
	}

	client := opts.IMDS
	if client == nil {
		client = imds.New(imds.Options{})
	}

	timeout := opts.DetectTimeout
	if timeout <= 0 {
		timeout = defaultDetectTimeout
	}
	detectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := metadata(detectCtx, client, "instance-id"); err != nil {
		logger.Debug().Err(err).Msg("EC2 metadata service not reachable, assuming dummy cloud")
		return TypeDummy
	}
	return TypeEC2
}

// New constructs the provider for cloudType
func New(cloudType string, opts Options) Interface {
	if cloudType == TypeEC2 {
		client := opts.IMDS
		if client == nil {
			client = imds.New(imds.Options{})
		}
		return NewEC2(client)
	}
	return NewLocal(cloudType, opts.UserDataFile, opts.DataDir)
}
