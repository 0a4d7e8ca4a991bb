package main

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterFlagsAndApplyDefaults(t *testing.T) {
	c := &Config{}
	fs := flag.NewFlagSet(t.Name(), flag.ContinueOnError)
	c.RegisterFlagsAndApplyDefaults(fs)

	require.Equal(t, ":3400", c.Server.HTTPListenAddr)
	require.Equal(t, "./archiver-data/local-log", c.LocalLogDir)
	require.Equal(t, int64(64<<20), c.ManifestCacheBytes)
	require.Equal(t, 5*time.Minute, c.ManifestCursorTTL)
	require.Equal(t, "local", c.ObjectStore.Backend)
	require.Equal(t, 30*time.Second, c.Archiver.UploadInterval)
}

func TestRegisterFlagsAndApplyDefaultsFlagsOverrideDefaults(t *testing.T) {
	c := &Config{}
	fs := flag.NewFlagSet(t.Name(), flag.ContinueOnError)
	c.RegisterFlagsAndApplyDefaults(fs)

	require.NoError(t, fs.Parse([]string{
		"-partition.namespace=ns",
		"-partition.topic=t",
		"-partition.partition=3",
		"-storage.backend=s3",
	}))

	require.Equal(t, "ns", c.Partition.Namespace)
	require.Equal(t, "t", c.Partition.Topic)
	require.Equal(t, 3, c.Partition.Partition)
	require.Equal(t, "s3", c.ObjectStore.Backend)
}
