package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

func visitor(ip, country string) *model.VisitorRecord {
	return &model.VisitorRecord{
		IP:          ip,
		Timestamp:   time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC),
		Country:     country,
		CountryCode: "XX",
		City:        model.UnknownValue,
	}
}

func replayIPs(t *testing.T, j *Journal) []string {
	t.Helper()
	var ips []string
	err := j.Replay(func(_ uint64, v *model.VisitorRecord) error {
		ips = append(ips, v.IP)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	return ips
}

func TestAppendReplayCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visitors.journal")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	seq1, err := j.Append(visitor("203.0.113.1", "Germany"))
	if err != nil {
		t.Fatalf("Append first: %v", err)
	}
	seq2, err := j.Append(visitor("203.0.113.2", "Japan"))
	if err != nil {
		t.Fatalf("Append second: %v", err)
	}
	if seq2 <= seq1 {
		t.Fatalf("sequence did not advance: %d then %d", seq1, seq2)
	}

	if err := j.Commit(seq1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if j.Committed() != seq1 {
		t.Fatalf("Committed = %d, want %d", j.Committed(), seq1)
	}

	ips := replayIPs(t, j)
	if len(ips) != 1 || ips[0] != "203.0.113.2" {
		t.Fatalf("Replay = %v, want [203.0.113.2]", ips)
	}
}

func TestReopenCompactsCommitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visitors.journal")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if _, err := j.Append(visitor(ip, "France")); err != nil {
			t.Fatalf("Append %s: %v", ip, err)
		}
	}
	if err := j.Commit(2); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := j.Append(visitor("10.0.0.9", "France")); err == nil {
		t.Fatal("Append after Close succeeded")
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = j2.Close() }()

	ips := replayIPs(t, j2)
	if len(ips) != 1 || ips[0] != "10.0.0.3" {
		t.Fatalf("Replay = %v, want [10.0.0.3]", ips)
	}

	seq, err := j2.Append(visitor("10.0.0.4", "France"))
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if seq != 4 {
		t.Fatalf("seq after reopen = %d, want 4", seq)
	}
}

func TestOpenIgnoresPartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visitors.journal")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := j.Append(visitor("192.0.2.10", "Brazil")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a torn write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString(`{"seq":999,"visitor":`); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close torn writer: %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("Open second: %v", err)
	}
	defer func() { _ = j2.Close() }()

	ips := replayIPs(t, j2)
	if len(ips) != 1 || ips[0] != "192.0.2.10" {
		t.Fatalf("Replay after torn write = %v, want [192.0.2.10]", ips)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
