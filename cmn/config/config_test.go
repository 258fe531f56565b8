package config

import (
	"errors"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
)

var errReloadFailed = errors.New("reload source unavailable")

func TestGetReturnsLatestPut(t *testing.T) {
	c1 := Put(&Config{Domain: "example.com"})
	require.Equal(t, c1, Get())

	c2 := Put(&Config{Domain: "example.org"})
	require.Equal(t, c2, Get())
	require.Greater(t, c2.Generation, c1.Generation)
}

func TestOnReloadSwapsOnSuccessLeavesInPlaceOnError(t *testing.T) {
	Put(&Config{Domain: "before.example"})

	err := OnReload(func() (*Config, error) {
		return &Config{Domain: "after.example"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "after.example", Get().Domain)

	reloadErr := OnReload(func() (*Config, error) {
		return nil, errReloadFailed
	})
	require.ErrorIs(t, reloadErr, errReloadFailed)
	require.Equal(t, "after.example", Get().Domain)
}

func TestDefaultBlobQuotaParsesHumanReadableSize(t *testing.T) {
	var q datasize.ByteSize
	require.NoError(t, q.UnmarshalText([]byte("10GB")))

	c := Put(&Config{
		Domain:                  "example.com",
		DefaultAccountBlobQuota: q,
		DefaultTenantBlobQuota:  5 * datasize.GB,
	})

	require.EqualValues(t, 10*datasize.GB, c.DefaultAccountBlobQuota)
	require.Greater(t, int64(c.DefaultAccountBlobQuota.Bytes()), int64(c.DefaultTenantBlobQuota.Bytes()))
}
