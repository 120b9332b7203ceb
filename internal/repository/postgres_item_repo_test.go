package repository

import "testing"

// TestPostgresItemRepo_ImplementsInterface はPostgresItemRepoがItemRepositoryを実装することを検証する。
func TestPostgresItemRepo_ImplementsInterface(t *testing.T) {
	var _ ItemRepository = (*PostgresItemRepo)(nil)
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"bottle", "bottle"},
		{"100%", `100\%`},
		{"a_b", `a\_b`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeFeatures_NilBecomesEmptyArray(t *testing.T) {
	got, err := encodeFeatures(nil)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if string(got) != "[]" {
		t.Errorf("encodeFeatures(nil) = %s, want []", got)
	}
}
