package namespace

import (
	"strings"
	"testing"

	"github.com/mcp-jive/jive/internal/errs"
)

func TestPriorityOrder(t *testing.T) {
	tests := []struct {
		name string
		src  Sources
		want string
	}{
		{"path wins over all", Sources{Path: "a", Header: "b", Meta: "c", ToolArg: "d", Default: "e"}, "a"},
		{"header beats meta", Sources{Header: "b", Meta: "c", ToolArg: "d"}, "b"},
		{"meta beats tool arg", Sources{Meta: "c", ToolArg: "d"}, "c"},
		{"tool arg beats default", Sources{ToolArg: "d", Default: "e"}, "d"},
		{"configured default", Sources{Default: "e"}, "e"},
		{"builtin default", Sources{}, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.src)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInvalidNamespaces(t *testing.T) {
	for _, ns := range []string{"has space", "slash/y", "", strings.Repeat("x", 65), "dot.dot"} {
		_, err := Resolve(Sources{Path: ns, Default: "default"})
		if ns == "" {
			// Empty path falls through to the default, which is valid.
			if err != nil {
				t.Fatalf("empty path should fall through: %v", err)
			}
			continue
		}
		if err == nil {
			t.Fatalf("expected error for %q", ns)
		}
		if errs.CodeOf(err) != errs.CodeInvalidNamespace {
			t.Fatalf("wrong code for %q: %s", ns, errs.CodeOf(err))
		}
	}
}

func TestEmptyDefaultFallsBackToBuiltin(t *testing.T) {
	got, err := Resolve(Sources{Default: ""})
	if err != nil || got != "default" {
		t.Fatalf("got %q err %v, want builtin default", got, err)
	}
}

func TestExplicitEmptySourceRejected(t *testing.T) {
	tests := []struct {
		name string
		src  Sources
	}{
		{"empty header", Sources{Header: "", HeaderSet: true, Default: "default"}},
		{"empty meta", Sources{Meta: "", MetaSet: true, Default: "default"}},
		{"empty tool arg", Sources{ToolArg: "", ToolArgSet: true, Default: "default"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.src)
			if errs.CodeOf(err) != errs.CodeInvalidNamespace {
				t.Fatalf("explicit empty source must be rejected, got %v", err)
			}
		})
	}

	// Unset sources with zero values still fall through to the default.
	got, err := Resolve(Sources{Default: "fallback"})
	if err != nil || got != "fallback" {
		t.Fatalf("got %q err %v, want fallback", got, err)
	}
}
