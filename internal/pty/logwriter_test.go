package pty

import "testing"

func TestLogSetWriteStdoutTagsAndSplitsLines(t *testing.T) {
	ls, err := newLogSet(t.TempDir())
	if err != nil {
		t.Fatalf("newLogSet: %v", err)
	}
	defer ls.Close()

	ls.WriteStdout([]byte("line one\nline two\n"))

	lines, err := ls.Tail(StreamStdout, 0, false)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if stripTimestampPrefix(lines[0]) != "line one" {
		t.Errorf("stripped line 0 = %q, want %q", stripTimestampPrefix(lines[0]), "line one")
	}
}

func TestLogSetWriteFeedsBothStreamSpecificAndCombined(t *testing.T) {
	ls, err := newLogSet(t.TempDir())
	if err != nil {
		t.Fatalf("newLogSet: %v", err)
	}
	defer ls.Close()

	ls.WriteStdout([]byte("out\n"))
	ls.WriteStderr([]byte("err\n"))

	combined, err := ls.Tail(StreamCombined, 0, true)
	if err != nil {
		t.Fatalf("Tail combined: %v", err)
	}
	if len(combined) != 2 {
		t.Fatalf("len(combined) = %d, want 2", len(combined))
	}
}

func TestLogSetTailRespectsLimit(t *testing.T) {
	ls, err := newLogSet(t.TempDir())
	if err != nil {
		t.Fatalf("newLogSet: %v", err)
	}
	defer ls.Close()

	ls.WriteStdout([]byte("a\nb\nc\nd\n"))

	lines, err := ls.Tail(StreamStdout, 2, true)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) != 2 || lines[0] != "c" || lines[1] != "d" {
		t.Errorf("lines = %v, want [c d]", lines)
	}
}

func TestLogSetClosePersistsPartialLine(t *testing.T) {
	ls, err := newLogSet(t.TempDir())
	if err != nil {
		t.Fatalf("newLogSet: %v", err)
	}
	ls.WriteStdout([]byte("no newline yet"))
	ls.Close()

	ls2, err := newLogSet(ls.stdoutPath[:len(ls.stdoutPath)-len("stdout.log")])
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ls2.Close()

	lines, err := ls2.Tail(StreamStdout, 0, true)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) != 1 || lines[0] != "no newline yet" {
		t.Errorf("lines = %v, want [\"no newline yet\"]", lines)
	}
}
