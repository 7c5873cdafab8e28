package fileid

import (
	"strings"
	"testing"
)

func TestFileDocID_stable(t *testing.T) {
	a := FileDocID("/docs/report.pdf")
	b := FileDocID("/docs/report.pdf")
	if a != b {
		t.Errorf("same path produced different ids: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "file:") {
		t.Errorf("id missing prefix: %s", a)
	}
}

func TestFileDocID_cleansPath(t *testing.T) {
	if FileDocID("/docs/./report.pdf") != FileDocID("/docs/report.pdf") {
		t.Error("equivalent paths should map to the same id")
	}
}

func TestFileDocID_distinctPaths(t *testing.T) {
	if FileDocID("/docs/a.pdf") == FileDocID("/docs/b.pdf") {
		t.Error("different paths mapped to the same id")
	}
}
