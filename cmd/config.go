package cmd

import (
	"fmt"

	"github.com/qarbon/qingest/internal/utils"
	"github.com/qarbon/qingest/pkg/adapters/builtin"
	"github.com/qarbon/qingest/pkg/ensemble"
	"github.com/qarbon/qingest/pkg/registry"
	"github.com/qarbon/qingest/pkg/sigcache"
	"github.com/spf13/viper"
)

// setDefaults registers every configuration key with its default value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("detection.match_threshold", ensemble.DefaultMatchThreshold)
	v.SetDefault("detection.early_exit_threshold", registry.DefaultEarlyExitThreshold)
	v.SetDefault("detection.max_time", "0s")
	v.SetDefault("detection.priority", []string{})
	v.SetDefault("detection.simple", false)
	v.SetDefault("detection.skip_validation", false)

	v.SetDefault("detection.weights.heuristic", ensemble.DefaultHeuristicWeight)
	v.SetDefault("detection.weights.similarity", ensemble.DefaultSimilarityWeight)
	v.SetDefault("detection.weights.fuzzy", ensemble.DefaultFuzzyWeight)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_entries", sigcache.DefaultMaxEntries)
	v.SetDefault("cache.ttl", sigcache.DefaultTTL.String())
	v.SetDefault("cache.max_data_size", sigcache.DefaultMaxDataSize)
	v.SetDefault("cache.prefix_size", sigcache.DefaultPrefixSize)
	v.SetDefault("cache.low_confidence", false)
	v.SetDefault("cache.min_confidence", sigcache.DefaultMinConfidenceToCache)

	v.SetDefault("schemas.dir", "")
	v.SetDefault("db.path", "")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")
}

// registryOptions maps configuration onto registry options.
func registryOptions(v *viper.Viper) (registry.Options, error) {
	opts := registry.DefaultOptions()
	opts.MatchThreshold = v.GetFloat64("detection.match_threshold")
	opts.EarlyExitThreshold = v.GetFloat64("detection.early_exit_threshold")
	opts.MaxDetectionTime = v.GetDuration("detection.max_time")
	opts.Priority = v.GetStringSlice("detection.priority")
	opts.SimpleDetection = v.GetBool("detection.simple")
	opts.SkipValidation = v.GetBool("detection.skip_validation")

	// Read leaf keys so QINGEST_DETECTION_WEIGHTS_* overrides apply.
	opts.Weights = ensemble.Weights{
		Heuristic:  v.GetFloat64("detection.weights.heuristic"),
		Similarity: v.GetFloat64("detection.weights.similarity"),
		Fuzzy:      v.GetFloat64("detection.weights.fuzzy"),
	}
	if err := opts.Weights.Validate(); err != nil {
		return opts, fmt.Errorf("detection.weights: %w", err)
	}

	opts.CacheEnabled = v.GetBool("cache.enabled")
	opts.Cache = sigcache.Config{
		MaxEntries:           v.GetInt("cache.max_entries"),
		TTL:                  v.GetDuration("cache.ttl"),
		MaxDataSize:          v.GetInt("cache.max_data_size"),
		PrefixSize:           v.GetInt("cache.prefix_size"),
		CacheLowConfidence:   v.GetBool("cache.low_confidence"),
		MinConfidenceToCache: v.GetFloat64("cache.min_confidence"),
	}
	opts.Log = utils.Log
	return opts, nil
}

// newRegistry builds the built-in registry from configuration.
func newRegistry(v *viper.Viper) (*registry.Registry, error) {
	opts, err := registryOptions(v)
	if err != nil {
		return nil, err
	}
	return newRegistryWith(v, opts)
}

func newRegistryWith(v *viper.Viper, opts registry.Options) (*registry.Registry, error) {
	return builtin.NewRegistry(opts, builtin.Config{SchemaDir: v.GetString("schemas.dir")})
}
