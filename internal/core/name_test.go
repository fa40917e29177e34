package core

import "testing"

func TestStorageSegmentCollapsesSlashesForUnscopedNames(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"left-pad", "left-pad"},
		{"../../../etc/passwd", "---etc-passwd"},
		{"@scope/pkg", "@scope-pkg"},
		{"@my-scope/pkg", "@my-scope-pkg"},
	}
	for _, c := range cases {
		got := StorageSegment(c.name)
		if got != c.want {
			t.Errorf("StorageSegment(%q) = %q, want %q", c.name, got, c.want)
		}
		if got == "" {
			t.Errorf("StorageSegment(%q) produced an empty segment", c.name)
		}
		for _, r := range got {
			if r == '/' {
				t.Errorf("StorageSegment(%q) = %q still contains a path separator", c.name, got)
			}
		}
	}
}
