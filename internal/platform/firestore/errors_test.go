package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/podshop/api/internal/platform/config"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code codes.Code
		want Kind
	}{
		{codes.NotFound, KindNotFound},
		{codes.AlreadyExists, KindConflict},
		{codes.Aborted, KindConflict},
		{codes.Unavailable, KindUnavailable},
		{codes.ResourceExhausted, KindUnavailable},
		{codes.PermissionDenied, KindUnknown},
	}
	for _, tc := range cases {
		err := WrapError("checkout_sessions.create", status.Error(tc.code, "boom"))
		var fsErr *Error
		if !errors.As(err, &fsErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if fsErr.Kind != tc.want {
			t.Fatalf("%s: expected kind %s, got %s", tc.code, tc.want, fsErr.Kind)
		}
	}
}

func TestWrapErrorPassesCancellationThrough(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "client gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline to pass through unchanged, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestWrapErrorKeepsExistingClassification(t *testing.T) {
	inner := &Error{Op: "inner", Kind: KindConflict, Err: errors.New("exists")}
	err := WrapError("outer", inner)
	var fsErr *Error
	if !errors.As(err, &fsErr) || fsErr.Op != "inner" || !fsErr.IsConflict() {
		t.Fatalf("expected original error to survive, got %v", err)
	}
}

func TestProviderRejectsUseAfterClose(t *testing.T) {
	p := NewProvider(configWithProject("unit"))
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func TestNewCollectionValidatesArguments(t *testing.T) {
	if _, err := NewCollection[struct{}](nil, "x"); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewCollection[struct{}](NewProvider(configWithProject("unit")), " "); err == nil {
		t.Fatalf("expected error for blank collection")
	}
}

func configWithProject(id string) config.FirestoreConfig {
	return config.FirestoreConfig{ProjectID: id}
}
