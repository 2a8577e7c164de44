package backend

import "testing"

func TestNormalizeImage(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"nginx:1.25", "nginx:1.25"},
		{"nginx:1.25@sha256:abc123", "nginx:1.25"},
		{"registry.local:5000/app:2.0@sha256:def456", "registry.local:5000/app:2.0"},
		{"nginx", "nginx"},
	}
	for _, c := range cases {
		if got := NormalizeImage(c.in); got != c.want {
			t.Errorf("NormalizeImage(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestImageTag(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"nginx:1.25", "1.25"},
		{"nginx", ""},
		{"registry.local:5000/app", ""},
		{"registry.local:5000/app:2.0", "2.0"},
		{"nginx:1.25@sha256:abc", "1.25"},
	}
	for _, c := range cases {
		if got := ImageTag(c.in); got != c.want {
			t.Errorf("ImageTag(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestWithTag(t *testing.T) {
	cases := []struct {
		image, tag, want string
	}{
		{"nginx:1.25", "1.26", "nginx:1.26"},
		{"nginx", "1.26", "nginx:1.26"},
		{"registry.local:5000/app", "2.0", "registry.local:5000/app:2.0"},
		{"registry.local:5000/app:1.0", "2.0", "registry.local:5000/app:2.0"},
		{"nginx:1.25@sha256:abc", "1.26", "nginx:1.26"},
	}
	for _, c := range cases {
		if got := WithTag(c.image, c.tag); got != c.want {
			t.Errorf("WithTag(%q, %q) = %q, want %q", c.image, c.tag, got, c.want)
		}
	}
}
