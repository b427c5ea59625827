package relayv1

import (
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodec_Registered(t *testing.T) {
	t.Parallel()
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := &LoginResponse{AccessToken: "tok", ExpiresAt: ts, UserID: "u", Salt: []byte{1, 2}}
	b, err := c.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(b), `"salt":"AQI="`)

	var out LoginResponse
	require.NoError(t, c.Unmarshal(b, &out))
	require.Equal(t, *in, out)

	var empty Empty
	require.NoError(t, c.Unmarshal(nil, &empty))
	require.Error(t, c.Unmarshal([]byte("{"), &out))
}

func TestServiceDesc_CoversServer(t *testing.T) {
	t.Parallel()
	require.Len(t, ServiceDesc.Methods, 21)
	seen := map[string]bool{}
	for _, m := range ServiceDesc.Methods {
		require.False(t, seen[m.MethodName], m.MethodName)
		seen[m.MethodName] = true
	}
	require.Equal(t, "/relay.v1.Relay/Send", FullMethod("Send"))
}

func TestCodec_WrappedKeyIsOneLayer(t *testing.T) {
	t.Parallel()
	c := encoding.GetCodec(CodecName)
	in := &CreateGroupRequest{Name: "g", Keys: []WrappedKey{
		{MemberID: "m", Key: Envelope{Ciphertext: []byte{1, 2, 3}, Nonce: []byte{4, 5}}},
	}}
	b, err := c.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(b), `"key":{"ciphertext":"AQID","nonce":"BAU="}`)

	// a re-stringified key is refused, not parsed twice
	twice := []byte(`{"name":"g","keys":[{"memberId":"m","key":"{\"ciphertext\":\"AQID\",\"nonce\":\"BAU=\"}"}]}`)
	var out CreateGroupRequest
	require.Error(t, c.Unmarshal(twice, &out))
}

func TestSchema_ListsEveryMethod(t *testing.T) {
	t.Parallel()
	schema, err := os.ReadFile("relay.proto")
	require.NoError(t, err)

	var declared []string
	for _, m := range regexp.MustCompile(`(?m)^\s*rpc (\w+)\(`).FindAllSubmatch(schema, -1) {
		declared = append(declared, string(m[1]))
	}
	var served []string
	for _, m := range ServiceDesc.Methods {
		served = append(served, m.MethodName)
	}
	require.Equal(t, served, declared)
	require.Contains(t, string(schema), "package relay.v1;")
	require.Contains(t, string(schema), "service Relay {")
}
