package curated

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/notefold/notefold/internal/eventstore"
)

type fakeResolver struct {
	byPath map[string]string
	calls  int
}

func (f *fakeResolver) IDByPath(ctx context.Context, path string) (string, error) {
	f.calls++
	id, ok := f.byPath[path]
	if !ok {
		return "", eventstore.ErrNotFound
	}
	return id, nil
}

func writeCuratedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "curated.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write curated file: %v", err)
	}
	return path
}

func TestLoadAbsentFileYieldsEmptySet(t *testing.T) {
	t.Parallel()

	set, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &fakeResolver{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	member, err := set.IsMember(context.Background(), "cat-1")
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if member {
		t.Fatal("empty set reported a member")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	t.Parallel()

	path := writeCuratedFile(t, "categories: [unterminated")
	if _, err := Load(path, &fakeResolver{}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMembershipByID(t *testing.T) {
	t.Parallel()

	path := writeCuratedFile(t, "categories:\n  - cat-root\n")
	set, err := Load(path, &fakeResolver{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	member, err := set.IsMember(context.Background(), "cat-root")
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if !member {
		t.Fatal("listed id not a member")
	}

	member, err = set.IsMember(context.Background(), "cat-other")
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if member {
		t.Fatal("unlisted id reported as member")
	}
}

func TestMembershipByPathUsesResolver(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{byPath: map[string]string{"Projects/Home": "cat-home"}}
	path := writeCuratedFile(t, "categories:\n  - Projects/Home\n")
	set, err := Load(path, resolver)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	member, err := set.IsMember(context.Background(), "cat-home")
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if !member {
		t.Fatal("path entry did not resolve to membership")
	}

	// The verdict is cached: asking again must not hit the resolver.
	calls := resolver.calls
	if _, err := set.IsMember(context.Background(), "cat-home"); err != nil {
		t.Fatalf("second is member: %v", err)
	}
	if resolver.calls != calls {
		t.Fatalf("resolver calls = %d, want %d (cached)", resolver.calls, calls)
	}
}

func TestInvalidateResolutionReResolvesPaths(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{byPath: map[string]string{"Projects/Home": "cat-home"}}
	path := writeCuratedFile(t, "categories:\n  - Projects/Home\n")
	set, err := Load(path, resolver)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx := context.Background()
	if member, _ := set.IsMember(ctx, "cat-home"); !member {
		t.Fatal("expected membership before re-parenting")
	}

	// After a re-parenting the path names a different node.
	resolver.byPath["Projects/Home"] = "cat-elsewhere"
	set.InvalidateResolution()

	member, err := set.IsMember(ctx, "cat-home")
	if err != nil {
		t.Fatalf("is member after invalidate: %v", err)
	}
	if member {
		t.Fatal("stale resolution survived invalidation")
	}
	member, err = set.IsMember(ctx, "cat-elsewhere")
	if err != nil {
		t.Fatalf("is member for new node: %v", err)
	}
	if !member {
		t.Fatal("re-resolved path did not grant membership")
	}
}

func TestCurationEventsOverrideFileEntries(t *testing.T) {
	t.Parallel()

	path := writeCuratedFile(t, "categories:\n  - cat-root\n")
	set, err := Load(path, &fakeResolver{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx := context.Background()
	set.ApplyCurationChange("cat-root", false)
	if member, _ := set.IsMember(ctx, "cat-root"); member {
		t.Fatal("curation event did not override file entry")
	}

	set.ApplyCurationChange("cat-new", true)
	if member, _ := set.IsMember(ctx, "cat-new"); !member {
		t.Fatal("curation event did not grant membership")
	}
}

func TestEmptyCategoryIDIsNeverMember(t *testing.T) {
	t.Parallel()

	set, err := Load("", &fakeResolver{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if member, _ := set.IsMember(context.Background(), "  "); member {
		t.Fatal("blank id reported as member")
	}
}
