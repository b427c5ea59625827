package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var cheap = Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func TestParams_NewSalt(t *testing.T) {
	t.Parallel()
	a, err := cheap.NewSalt()
	require.NoError(t, err)
	require.Len(t, a, 16)
	b, _ := cheap.NewSalt()
	require.NotEqual(t, a, b)
}

func TestParams_HashVerify(t *testing.T) {
	t.Parallel()
	salt, _ := cheap.NewSalt()
	h := cheap.Hash([]byte("pw"), salt)
	require.Len(t, h, 32)
	require.Equal(t, h, cheap.Hash([]byte("pw"), salt))

	require.True(t, cheap.Verify([]byte("pw"), salt, h))
	require.False(t, cheap.Verify([]byte("pw2"), salt, h))

	other, _ := cheap.NewSalt()
	require.False(t, cheap.Verify([]byte("pw"), other, h))
	require.False(t, cheap.Verify([]byte("pw"), salt, h[:16]))
}

func TestDefaultParams_Shape(t *testing.T) {
	t.Parallel()
	require.Equal(t, uint32(64*1024), DefaultParams.Memory)
	require.Equal(t, 16, DefaultParams.SaltLen)
}
