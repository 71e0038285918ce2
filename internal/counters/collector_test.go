package counters_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/open-ethernet/MLAG-sub002/internal/counters"
)

func TestClearZeroesAllSubsystems(t *testing.T) {
	t.Parallel()

	c := counters.NewCollector(prometheus.NewRegistry())
	c.Transport.TxMessages.Store(5)
	c.Manager.PeerEnableSent.Store(3)
	c.Election.Transitions.Store(2)

	c.Clear()

	if c.Transport.TxMessages.Load() != 0 || c.Manager.PeerEnableSent.Load() != 0 || c.Election.Transitions.Load() != 0 {
		t.Fatal("Clear did not zero all counters")
	}
}

func TestDumpWritesSortedLines(t *testing.T) {
	t.Parallel()

	c := counters.NewCollector(prometheus.NewRegistry())
	c.Transport.TxMessages.Store(7)
	c.Transport.RxMessages.Store(9)

	var sb strings.Builder
	c.Dump(nil, &sb)

	out := sb.String()
	if !strings.Contains(out, "transport.tx_messages=7") {
		t.Fatalf("Dump output missing tx_messages line: %q", out)
	}
	if !strings.Contains(out, "transport.rx_messages=9") {
		t.Fatalf("Dump output missing rx_messages line: %q", out)
	}
	if strings.Index(out, "transport.rx_messages=9") > strings.Index(out, "transport.tx_messages=7") {
		t.Fatalf("Dump output not sorted by name within a section: %q", out)
	}
}

func TestDumpUsesCallbackWhenProvided(t *testing.T) {
	t.Parallel()

	c := counters.NewCollector(prometheus.NewRegistry())
	c.Election.EqualIPErrors.Store(1)

	var lines []string
	c.Dump(func(line string) { lines = append(lines, line) }, nil)

	found := false
	for _, l := range lines {
		if l == "election.equal_ip_errors=1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("callback lines = %v, missing equal_ip_errors", lines)
	}
}
