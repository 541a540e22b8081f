package utils

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogLevel(t *testing.T) {
	defer Log.SetLevel(logrus.InfoLevel)
	require.NoError(t, SetLogLevel("WARN"))
	assert.Equal(t, logrus.WarnLevel, Log.GetLevel())
	require.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())
	assert.Error(t, SetLogLevel("loud"))
}

func TestDBLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.sqlite")
	l, err := NewDBLock(path)
	require.NoError(t, err)
	require.NoError(t, l.Lock(context.Background()))
	assert.Equal(t, path+".lock", l.Path())
	assert.FileExists(t, l.Path())

	// A second handle on the same file must wait; a cancelled wait fails.
	other, err := NewDBLock(path)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, other.Lock(ctx))

	require.NoError(t, l.Unlock())
	require.NoError(t, other.Lock(context.Background()))
	require.NoError(t, other.Unlock())
}

func TestDefaultDBPath(t *testing.T) {
	p, err := GetAbsDBPath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(".config", "qingest", "qingest.sqlite"), filepath.Join(filepath.Base(filepath.Dir(filepath.Dir(p))), filepath.Base(filepath.Dir(p)), filepath.Base(p)))
}
