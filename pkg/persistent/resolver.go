package persistent

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/nodeboot/pkg/config"
	"github.com/cuemby/nodeboot/pkg/log"
	"github.com/cuemby/nodeboot/pkg/metrics"
	"github.com/cuemby/nodeboot/pkg/objectstore"
)

// Source identifies where the governing persistent data came from
type Source string

const (
	SourceBucket Source = "bucket"
	SourceLocal  Source = "local"
	SourceNone   Source = "none"
)

// NormalizeFunc reconciles a merged user-data mapping
type NormalizeFunc func(ctx context.Context, ud map[string]interface{}) map[string]interface{}

// Resolver locates the most authoritative prior cluster state and folds it
// into the working configuration
type Resolver struct {
	// UseObjectStore enables the cluster bucket lookup
	UseObjectStore bool
	// Connect opens the object store; it is only called when the bucket
	// lookup runs
	Connect func(ctx context.Context) (objectstore.Store, error)
	// Validate requests integrity validation of the bucket download
	Validate bool
	// TestFlag suppresses the bucket lookup
	TestFlag bool
	// InstanceFile is the instance-local PD path
	InstanceFile string
	// TempFile receives the bucket download
	TempFile string
	// Normalize defaults to the package Normalize
	Normalize NormalizeFunc
}

// Resolve applies the first PD source found, in order: cluster bucket,
// instance file. When neither yields a snapshot the configuration is
// stamped with the current DeploymentVersion instead. Source failures are
// never returned; the only error is a rejected configuration update.
func (r *Resolver) Resolve(ctx context.Context, cfg *config.Configuration) (Source, error) {
	logger := log.WithComponent("persistent")

	source := SourceNone
	snap := r.fromBucket(ctx, cfg)
	if snap != nil {
		source = SourceBucket
	} else if snap = r.fromInstanceFile(); snap != nil {
		source = SourceLocal
	}

	metrics.PDResolutionsTotal.WithLabelValues(string(source)).Inc()

	if snap == nil {
		logger.Debug().
			Int("deployment_version", DeploymentVersion).
			Msg("No PD to go by, setting deployment_version")
		if err := cfg.Set(config.KeyDeploymentVersion, DeploymentVersion); err != nil {
			return source, fmt.Errorf("failed to set deployment version: %w", err)
		}
		return source, nil
	}

	normalize := r.Normalize
	if normalize == nil {
		normalize = Normalize
	}

	merged := DeepMerge(cfg.UserData(), snap)
	merged = normalize(ctx, merged)
	if err := cfg.SetUserData(merged); err != nil {
		return source, fmt.Errorf("failed to apply persistent data: %w", err)
	}

	logger.Debug().Str("source", string(source)).Msg("Merged persistent data into user data")
	return source, nil
}

func (r *Resolver) fromBucket(ctx context.Context, cfg *config.Configuration) Snapshot {
	logger := log.WithComponent("persistent")

	bucket := cfg.GetString(config.KeyBucketCluster, "")
	if !r.UseObjectStore || bucket == "" {
		return nil
	}
	logger.Debug().Str("bucket", bucket).Msg("Looking for existing cluster persistent data (PD)")

	if r.TestFlag {
		logger.Debug().Msg("Test mode, skipping bucket PD lookup")
		return nil
	}
	if r.Connect == nil {
		return nil
	}

	store, err := r.Connect(ctx)
	if err != nil {
		metrics.PDFetchFailuresTotal.WithLabelValues(string(SourceBucket)).Inc()
		logger.Debug().Err(err).Msg("Failed to connect to object store")
		return nil
	}

	if !objectstore.Fetch(ctx, store, bucket, RemoteFileName, r.TempFile, r.Validate) {
		metrics.PDFetchFailuresTotal.WithLabelValues(string(SourceBucket)).Inc()
		return nil
	}

	logger.Debug().Str("path", r.TempFile).Msg("Loading bucket PD file")
	snap, err := ParseFile(r.TempFile)
	if err != nil {
		metrics.PDFetchFailuresTotal.WithLabelValues(string(SourceBucket)).Inc()
		logger.Debug().Err(err).Msg("Failed to parse bucket PD file")
		return nil
	}
	return snap
}

func (r *Resolver) fromInstanceFile() Snapshot {
	logger := log.WithComponent("persistent")

	if r.InstanceFile == "" {
		return nil
	}
	if _, err := os.Stat(r.InstanceFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Debug().Err(err).Str("path", r.InstanceFile).Msg("Cannot stat instance PD file")
		}
		return nil
	}

	logger.Debug().Str("path", r.InstanceFile).Msg("Loading instance PD file")
	snap, err := ParseFile(r.InstanceFile)
	if err != nil {
		metrics.PDFetchFailuresTotal.WithLabelValues(string(SourceLocal)).Inc()
		logger.Debug().Err(err).Msg("Failed to parse instance PD file")
		return nil
	}
	return snap
}
