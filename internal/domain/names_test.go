package domain

import "testing"

func TestSafeName(t *testing.T) {
	for in, want := range map[string]string{
		"orders-api":  "orders-api",
		"team/orders": "team_orders",
		"../etc":      ".._etc",
		"..":          "_",
		"":            "_",
		"a b/c":       "a_b_c",
	} {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}
