package version

import (
	"testing"

	"github.com/fatih/color"
)

func TestCurrentDefaults(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	Version = "  "
	if got := Current().Version; got != "dev" {
		t.Fatalf("Current().Version = %q, want dev", got)
	}
	Version = " 1.2.3 "
	if got := Current().Version; got != "1.2.3" {
		t.Fatalf("Current().Version = %q, want 1.2.3", got)
	}
}

func TestColoredPlain(t *testing.T) {
	orig := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = orig }()

	tests := []string{"0.1.0-dev", "1.2.3", "1.2.3-rc.1+build.123", "dev"}
	for _, v := range tests {
		if got := Colored(v); got != v {
			t.Fatalf("Colored(%q) = %q", v, got)
		}
	}
}
