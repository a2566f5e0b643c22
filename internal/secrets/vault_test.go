package secrets_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/secrets"
)

func staticLoader(vals map[string]string) secrets.Loader {
	return func() (map[string]string, error) { return vals, nil }
}

func TestNewVault_LoaderError(t *testing.T) {
	_, err := secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestVault_SourceFollowsReload(t *testing.T) {
	calls := 0
	v, err := secrets.NewVault(func() (map[string]string, error) {
		calls++
		if calls == 1 {
			return map[string]string{"LITELLM_MASTER_KEY": "sk-old"}, nil
		}
		return map[string]string{"LITELLM_MASTER_KEY": "sk-new"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	key := v.Source("LITELLM_MASTER_KEY")
	if got := key(); got != "sk-old" {
		t.Fatalf("expected sk-old, got %q", got)
	}
	if err := v.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := key(); got != "sk-new" {
		t.Fatalf("expected sk-new after reload, got %q", got)
	}
}

func TestVault_ReloadErrorPreservesValues(t *testing.T) {
	calls := 0
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		calls++
		if calls == 1 {
			return map[string]string{"KEY": "original"}, nil
		}
		return nil, errors.New("vault unavailable")
	})

	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := v.Get("KEY"); got != "original" {
		t.Fatalf("expected original after failed reload, got %q", got)
	}
}

func TestVault_ConcurrentAccess(t *testing.T) {
	v, _ := secrets.NewVault(staticLoader(map[string]string{"K": "V"}))

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = v.Get("K")
		}()
		go func() {
			defer wg.Done()
			_ = v.Reload()
		}()
	}
	wg.Wait()
}

func TestVault_Redact(t *testing.T) {
	v, _ := secrets.NewVault(staticLoader(map[string]string{
		"LITELLM_MASTER_KEY": "sk-live-abcdef",
		"ANTHROPIC_API_KEY":  "sk-ant-123456",
		"SHORT":              "ab",
	}))

	tests := []struct {
		in   string
		want string
	}{
		{"litellm API error 401: bad key sk-live-abcdef", "litellm API error 401: bad key sk****"},
		{"ant sk-ant-123456 and ab", "ant sk**** and ab"},
		{"nothing secret here", "nothing secret here"},
	}
	for _, tt := range tests {
		if got := v.Redact(tt.in); got != tt.want {
			t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVault_Loaded(t *testing.T) {
	v, _ := secrets.NewVault(staticLoader(map[string]string{"B": "2", "A": "1", "EMPTY": ""}))
	if got := v.Loaded(); !slices.Equal(got, []string{"A", "B"}) {
		t.Fatalf("expected [A B], got %v", got)
	}
}

func TestEnvLoader(t *testing.T) {
	t.Setenv("MC_TEST_SECRET", "from-env")
	t.Setenv("MC_TEST_EMPTY", "")
	loader := secrets.EnvLoader(
		map[string]string{"MC_TEST_SECRET": "from-yaml", "MC_TEST_EMPTY": "yaml-only"},
		"MC_TEST_SECRET", "MC_TEST_EMPTY", "MC_TEST_MISSING",
	)

	vals, err := loader()
	if err != nil {
		t.Fatal(err)
	}
	if vals["MC_TEST_SECRET"] != "from-env" {
		t.Errorf("env should win, got %q", vals["MC_TEST_SECRET"])
	}
	if vals["MC_TEST_EMPTY"] != "yaml-only" {
		t.Errorf("empty env should fall back, got %q", vals["MC_TEST_EMPTY"])
	}
	if _, ok := vals["MC_TEST_MISSING"]; ok {
		t.Error("missing key without default should be omitted")
	}
}

func TestVault_RedactError(t *testing.T) {
	v, _ := secrets.NewVault(staticLoader(map[string]string{"KEY": "sk-live-abcdef"}))

	base := context.DeadlineExceeded
	err := v.RedactError(fmt.Errorf("chat completion with sk-live-abcdef: %w", base))
	if err.Error() != "chat completion with sk****: context deadline exceeded" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("redacted error should still unwrap")
	}
	if v.RedactError(nil) != nil {
		t.Fatal("nil stays nil")
	}
}
