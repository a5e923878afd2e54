package frontier

import "testing"

func TestEnqueueDedupesOnCanonicalForm(t *testing.T) {
	f := New("https://example.com/", 3, 10)

	if _, ok := f.Enqueue("https://example.com/docs", 1, false); !ok {
		t.Fatal("first enqueue should be admitted")
	}
	if _, ok := f.Enqueue("https://EXAMPLE.com/docs/", 1, false); ok {
		t.Fatal("canonical duplicate should be rejected")
	}
	if _, ok := f.Enqueue("https://example.com/docs#section", 2, false); ok {
		t.Fatal("fragment variant should be rejected")
	}
	if f.Discovered() != 1 {
		t.Fatalf("discovered = %d, want 1", f.Discovered())
	}
}

func TestEnqueueBounds(t *testing.T) {
	f := New("https://example.com/", 2, 2)

	if _, ok := f.Enqueue("https://example.com/too/deep", 3, false); ok {
		t.Error("depth above max should be rejected")
	}
	if _, ok := f.Enqueue("https://other.example.net/", 1, false); ok {
		t.Error("off-site URL should be rejected")
	}
	if _, ok := f.Enqueue("https://example.com/logo.png", 1, false); ok {
		t.Error("asset URL should be rejected")
	}

	f.Enqueue("https://example.com/a", 1, false)
	f.Enqueue("https://example.com/b", 1, false)
	if _, ok := f.Enqueue("https://example.com/c", 1, false); ok {
		t.Error("page cap should reject further URLs")
	}
}

func TestEnqueueAllowVeto(t *testing.T) {
	f := New("https://example.com/", 3, 10)
	f.Allow = func(u string) bool { return u != "https://example.com/private" }

	if _, ok := f.Enqueue("https://example.com/private", 1, false); ok {
		t.Fatal("vetoed URL should be rejected")
	}
	if _, ok := f.Enqueue("https://example.com/public", 1, false); !ok {
		t.Fatal("allowed URL should be admitted")
	}
}

func TestPopOrderPrefersDocsAndShallow(t *testing.T) {
	f := New("https://example.com/", 3, 20)
	f.Enqueue("https://example.com/blog/post", 1, false)
	f.Enqueue("https://example.com/docs/intro", 1, false)
	f.Enqueue("https://example.com/about", 1, false)

	first, _ := f.Pop()
	if first.URL != "https://example.com/docs/intro" {
		t.Fatalf("first pop = %s, want docs page", first.URL)
	}
	second, _ := f.Pop()
	if second.URL != "https://example.com/about" {
		t.Fatalf("second pop = %s, want plain page before blog", second.URL)
	}
}

func TestPopTieBreakIsEnqueueOrder(t *testing.T) {
	f := New("https://example.com/", 3, 20)
	f.Enqueue("https://example.com/alpha", 1, false)
	f.Enqueue("https://example.com/beta", 1, false)

	first, _ := f.Pop()
	second, _ := f.Pop()
	if first.URL != "https://example.com/alpha" || second.URL != "https://example.com/beta" {
		t.Fatalf("tie-break order wrong: %s then %s", first.URL, second.URL)
	}
}

func TestScoreSitemapBoost(t *testing.T) {
	plain := Score("https://example.com/page", 1, 3, false)
	boosted := Score("https://example.com/page", 1, 3, true)
	if boosted <= plain {
		t.Fatalf("sitemap membership should boost score: %f vs %f", boosted, plain)
	}
}

func TestScoreTokenMatchesSegmentsOnly(t *testing.T) {
	if Score("https://example.com/rapid", 1, 3, false) != Score("https://example.com/plain", 1, 3, false) {
		t.Fatal("substring 'api' inside 'rapid' must not boost")
	}
	if Score("https://example.com/api", 1, 3, false) <= Score("https://example.com/plain", 1, 3, false) {
		t.Fatal("api segment should boost")
	}
	if Score("https://example.com/release-notes", 1, 3, false) >= Score("https://example.com/plain", 1, 3, false) {
		t.Fatal("release-notes should be penalized")
	}
}

func TestPopEmpty(t *testing.T) {
	f := New("https://example.com/", 3, 10)
	if _, ok := f.Pop(); ok {
		t.Fatal("empty frontier should not pop")
	}
}
