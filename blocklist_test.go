package alwaysproxy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestReadBlocklist(t *testing.T) {
	b, err := ReadBlocklist(strings.NewReader("blocked.example\n\n  spaced.example  \n# comment\r\nwindows.example\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if hosts := fmt.Sprint(b.Hosts()); hosts != "[blocked.example spaced.example windows.example]" {
		t.Fatalf("hosts are %s", hosts)
	}
	if !b.Contains("spaced.example") || b.Contains("example") || b.Contains("") {
		t.Fatal("wrong membership")
	}
}

func TestLoadBlocklist(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "blocked_sites.txt")
	if err := os.WriteFile(filename, []byte("a.example\nb.example\n"), 0644); err != nil {
		t.Fatal(err)
	}
	b := LoadBlocklist(filename, zerolog.New(zerolog.NewTestWriter(t)))
	if b.Len() != 2 || !b.Contains("b.example") {
		t.Fatalf("hosts are %v", b.Hosts())
	}
}

func TestLoadBlocklistMissingFile(t *testing.T) {
	b := LoadBlocklist(filepath.Join(t.TempDir(), "missing.txt"), zerolog.New(zerolog.NewTestWriter(t)))
	if b == nil || b.Len() != 0 {
		t.Fatal("expected an empty blocklist")
	}
}

func TestNilBlocklistBlocksNothing(t *testing.T) {
	var b *Blocklist
	if b.Contains("example.com") || b.Len() != 0 || len(b.Hosts()) != 0 {
		t.Fatal("nil blocklist blocked something")
	}
}
