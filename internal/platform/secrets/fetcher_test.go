package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeAccessClient struct {
	mu     sync.Mutex
	values map[string]string
	err    error
	calls  map[string]int
}

func newFakeAccessClient() *fakeAccessClient {
	return &fakeAccessClient{values: map[string]string{}, calls: map[string]int{}}
}

func (f *fakeAccessClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if f.err != nil {
		return nil, f.err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (f *fakeAccessClient) Close() error { return nil }

func TestResolveSecretCachesRemoteValue(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	name := "projects/porma/secrets/redis_password/versions/latest"
	client.values[name] = "hunter2"

	resolver, err := NewResolver(ctx, WithClient(client), WithDefaultProject("porma"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := resolver.ResolveSecret(ctx, "secret://redis_password")
		if err != nil || got != "hunter2" {
			t.Fatalf("ResolveSecret #%d = %q, %v", i, got, err)
		}
	}
	if client.calls[name] != 1 {
		t.Fatalf("expected one remote call, got %d", client.calls[name])
	}

	resolver.Invalidate("sm://redis_password")
	if _, err := resolver.ResolveSecret(ctx, "sm://redis_password"); err != nil {
		t.Fatalf("ResolveSecret after invalidate: %v", err)
	}
	if client.calls[name] != 2 {
		t.Fatalf("expected refetch after invalidate, got %d calls", client.calls[name])
	}
}

func TestResolveSecretHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	client.values["projects/other/secrets/kafka/versions/3"] = "v3"

	resolver, _ := NewResolver(ctx, WithClient(client), WithDefaultProject("porma"), WithFallbackFile(""))
	got, err := resolver.ResolveSecret(ctx, "secret://kafka?version=3&project=other")
	if err != nil || got != "v3" {
		t.Fatalf("ResolveSecret = %q, %v", got, err)
	}
}

func TestResolveSecretFallsBackWhenUnavailable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(path, []byte("# local\nsecret://redis_password=local-pass\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	client := newFakeAccessClient()
	client.err = status.Error(codes.Unavailable, "offline")

	resolver, _ := NewResolver(ctx, WithClient(client), WithDefaultProject("porma"), WithFallbackFile(path))
	got, err := resolver.ResolveSecret(ctx, "secret://redis_password")
	if err != nil || got != "local-pass" {
		t.Fatalf("ResolveSecret = %q, %v", got, err)
	}
}

func TestResolveSecretDoesNotFallBackOnNotFound(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(path, []byte("missing=value\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	resolver, _ := NewResolver(ctx, WithClient(newFakeAccessClient()), WithDefaultProject("porma"), WithFallbackFile(path))
	if _, err := resolver.ResolveSecret(ctx, "secret://missing"); err == nil {
		t.Fatal("expected not found to surface")
	}
}

func TestParseRefRejectsOtherSchemes(t *testing.T) {
	if _, err := parseRef("https://example.com"); err == nil {
		t.Fatal("expected scheme error")
	}
	if _, err := parseRef("secret://"); err == nil {
		t.Fatal("expected missing name error")
	}
}
