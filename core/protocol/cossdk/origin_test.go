package cossdk

import "testing"

func TestNormalizeOrigin(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://a.example", "https://a.example"},
		{"HTTPS://A.Example", "https://a.example"},
		{"https://a.example:443", "https://a.example"},
		{"http://a.example:80", "http://a.example"},
		{"https://a.example:8443", "https://a.example:8443"},
		{"  https://a.example  ", "https://a.example"},
		{"https://a.example/path/ignored", "https://a.example"},
	}
	for _, tc := range cases {
		got, err := NormalizeOrigin(tc.in)
		if err != nil {
			t.Fatalf("normalize %q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("normalize %q: got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeOriginRejectsPartial(t *testing.T) {
	for _, in := range []string{"", "a.example", "https://", "://nope"} {
		if _, err := NormalizeOrigin(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}
