package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const memoryConfig = `storage:
  driver: memory
archive:
  driver: memory
notify:
  driver: memory
observability:
  metrics:
    driver: none
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bloodlink.yaml")
	if err := os.WriteFile(path, []byte(memoryConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestCLIPrintsRequestLog(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := cli([]string{"-config", writeConfig(t), "-seed", "-blood-type", "b-", "-units", "3"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{
		"Request posted. Initiating search...",
		"Phase 1: Checking partner hospital network...",
		"Partial Success: 1 unit of B- blood located at City Hospital.",
		"Success: Voluntary donor 'John Doe' found and notified.",
		"Search complete.",
		"2/3 units, status urgent",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCLIJSONOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := cli([]string{"-config", writeConfig(t), "-blood-type", "O-", "-units", "2", "-json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	var doc struct {
		Request struct {
			UnitsFulfilled int `json:"units_fulfilled"`
		} `json:"request"`
		Result struct {
			Shortfall int `json:"shortfall"`
			Events    []struct {
				Phase string `json:"phase"`
			} `json:"events"`
		} `json:"result"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout.String())
	}
	if doc.Request.UnitsFulfilled != 0 || doc.Result.Shortfall != 2 {
		t.Fatalf("expected untouched request with shortfall 2, got %+v", doc)
	}
	if last := doc.Result.Events[len(doc.Result.Events)-1].Phase; last != "complete" {
		t.Fatalf("expected complete last, got %s", last)
	}
}

func TestCLIHistoryListsArchivedRequests(t *testing.T) {
	t.Setenv("BLOODLINK_MATCHING_AUTO_FULFILL", "true")
	var stdout, stderr bytes.Buffer
	args := []string{"-config", writeConfig(t), "-seed", "-requester", "rural_clinic", "-blood-type", "B-", "-units", "1", "-history", "-purge-before", "1h"}
	if code := cli(args, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "B- 1/1 units, status fulfilled") {
		t.Fatalf("expected archived request in history:\n%s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "purged 0 archived requests for rural_clinic") {
		t.Fatalf("expected purge summary, got %q", stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	if code := cli([]string{"-config", writeConfig(t), "-history", "-json"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != "[]" {
		t.Fatalf("expected empty history, got %q", stdout.String())
	}
}

func TestCLIErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-no-such-flag"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2 for bad flag, got %d", code)
	}
	stderr.Reset()
	if code := cli([]string{"-config", writeConfig(t), "-blood-type", "C+"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1 for unknown blood type, got %d", code)
	}
	if !strings.Contains(stderr.String(), "blood_type") {
		t.Fatalf("expected blood_type error, got %q", stderr.String())
	}
	if code := cli([]string{"-config", writeConfig(t), "-blood-type", "A+", "-units", "0"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1 for zero units, got %d", code)
	}
	if code := cli([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1 for missing config, got %d", code)
	}
}
