package placeholder

import "testing"

const base = "http://127.0.0.1:8090/placeholder"

func TestEncodeDecode_RoundTrip(t *testing.T) {
	meta := Meta{
		URL:        "https://example.com/article?id=42",
		Title:      "An Article",
		FaviconURL: "https://example.com/favicon.ico",
	}
	raw := Encode(base, meta)

	got, ok := Decode(raw)
	if !ok {
		t.Fatalf("Decode(%q): not decodable", raw)
	}
	if got != meta {
		t.Fatalf("Decode: got %+v, want %+v", got, meta)
	}
}

func TestDecode_NotAPlaceholder(t *testing.T) {
	for _, raw := range []string{
		"https://example.com/",
		"http://127.0.0.1:8090/placeholder", // no state param
		"http://127.0.0.1:8090/placeholder?state=%%%",
		"http://127.0.0.1:8090/placeholder?state=bm90anNvbg", // not JSON
	} {
		if _, ok := Decode(raw); ok {
			t.Errorf("Decode(%q): unexpectedly decodable", raw)
		}
	}
}

func TestDecode_EmptyURLRejected(t *testing.T) {
	raw := Encode(base, Meta{Title: "no url"})
	if _, ok := Decode(raw); ok {
		t.Fatal("Decode accepted placeholder without original URL")
	}
}

func TestIsPlaceholder(t *testing.T) {
	raw := Encode(base, Meta{URL: "https://example.com/"})
	if !IsPlaceholder(raw, base) {
		t.Fatalf("IsPlaceholder(%q): got false", raw)
	}
	if IsPlaceholder("https://example.com/placeholder?state=x", base) {
		t.Fatal("IsPlaceholder matched foreign host")
	}
	if IsPlaceholder("https://example.com/", "") {
		t.Fatal("IsPlaceholder matched with empty base")
	}
}

func TestRestorable(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://example.com/", true},
		{"http://example.com/a?b=c", true},
		{"chrome://settings", false},
		{"about:blank", false},
		{"file:///etc/hosts", false},
		{"", false},
	}
	for _, c := range cases {
		if got := Restorable(c.url); got != c.want {
			t.Errorf("Restorable(%q): got %v, want %v", c.url, got, c.want)
		}
	}
}
