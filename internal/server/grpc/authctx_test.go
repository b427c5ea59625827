package grpcserver

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
)

func TestUserIDFromCtx(t *testing.T) {
	t.Parallel()

	want := uuid.Must(uuid.NewV4())
	cases := []struct {
		name   string
		ctx    context.Context
		wantOK bool
	}{
		{"empty", context.Background(), false},
		{"nil identity", WithUserID(context.Background(), uuid.Nil), false},
		{"foreign key with same shape", context.WithValue(context.Background(), struct{}{}, want), false},
		{"authenticated", WithUserID(context.Background(), want), true},
	}
	for _, tc := range cases {
		id, ok := UserIDFromCtx(tc.ctx)
		if ok != tc.wantOK {
			t.Fatalf("%s: ok=%v, want %v", tc.name, ok, tc.wantOK)
		}
		if ok && id != want {
			t.Fatalf("%s: got %s, want %s", tc.name, id, want)
		}
		if !ok && id != uuid.Nil {
			t.Fatalf("%s: want uuid.Nil on miss, got %s", tc.name, id)
		}
	}
}
