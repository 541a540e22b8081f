package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/qarbon/qingest/pkg/ensemble"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryOptionsDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	opts, err := registryOptions(v)
	require.NoError(t, err)
	assert.Equal(t, 0.5, opts.MatchThreshold)
	assert.Equal(t, 0.95, opts.EarlyExitThreshold)
	assert.Zero(t, opts.MaxDetectionTime)
	assert.Empty(t, opts.Priority)
	assert.Equal(t, ensemble.DefaultWeights(), opts.Weights)
	assert.True(t, opts.CacheEnabled)
	assert.Equal(t, 1000, opts.Cache.MaxEntries)
	assert.Equal(t, 5*time.Minute, opts.Cache.TTL)
	assert.Equal(t, 4096, opts.Cache.PrefixSize)
	assert.False(t, opts.Cache.CacheLowConfidence)
}

func TestRegistryOptionsFromYAML(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
detection:
  match_threshold: 0.6
  max_time: 250ms
  priority: [csv, json]
  weights:
    heuristic: 0.5
cache:
  enabled: false
  ttl: 1m
`)))

	opts, err := registryOptions(v)
	require.NoError(t, err)
	assert.Equal(t, 0.6, opts.MatchThreshold)
	assert.Equal(t, 250*time.Millisecond, opts.MaxDetectionTime)
	assert.Equal(t, []string{"csv", "json"}, opts.Priority)
	assert.Equal(t, 0.5, opts.Weights.Heuristic)
	assert.Equal(t, 0.4, opts.Weights.Similarity)
	assert.False(t, opts.CacheEnabled)
	assert.Equal(t, time.Minute, opts.Cache.TTL)
}

func TestRegistryOptionsEnv(t *testing.T) {
	t.Setenv("QINGEST_DETECTION_WEIGHTS_FUZZY", "0.1")
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("qingest")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	opts, err := registryOptions(v)
	require.NoError(t, err)
	assert.Equal(t, 0.1, opts.Weights.Fuzzy)
	assert.Equal(t, 0.4, opts.Weights.Heuristic)

	v.Set("detection.weights.heuristic", -1)
	_, err = registryOptions(v)
	assert.Error(t, err)
}

func TestNewRegistryFromConfig(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	reg, err := newRegistry(v)
	require.NoError(t, err)
	assert.Equal(t, 9, reg.Len())

	v.Set("schemas.dir", t.TempDir()+"/missing")
	_, err = newRegistry(v)
	assert.Error(t, err)
}

func TestReadInputsStdin(t *testing.T) {
	items, err := readInputs(nil, bytes.NewBufferString("a,b\n1,2"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "-", items[0].Source)
	assert.Equal(t, "a,b\n1,2", items[0].Payload.Text())

	_, err = readInputs([]string{t.TempDir() + "/nope.json"}, nil)
	assert.Error(t, err)
}
