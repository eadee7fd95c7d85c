package pdu

import (
	"strings"
	"testing"
)

func TestResolveOutletsUnionsAndDedupes(t *testing.T) {
	groups := []Group{
		{Name: "Critical", OutletAccess: []string{"AA1", "AA2"}},
		{Name: "Lab", OutletAccess: []string{"BA1", "BA2"}},
	}

	got := ResolveOutlets(groups,
		[]Target{{Name: "Critical", Operation: OpStatus}},
		[]Target{{Name: "BA1", Operation: OpStatus}},
	)

	want := map[string]bool{"AA1": true, "AA2": true, "BA1": true}
	if len(got) != len(want) {
		t.Fatalf("resolved %v, want set %v", got, want)
	}
	for _, name := range got {
		if !want[name] {
			t.Errorf("unexpected outlet %q in %v", name, got)
		}
	}
}

func TestResolveOutletsDeduplicatesOverlap(t *testing.T) {
	groups := []Group{
		{Name: "Critical", OutletAccess: []string{"AA1", "AA2"}},
	}

	// AA1 requested both via the group and explicitly.
	got := ResolveOutlets(groups,
		[]Target{{Name: "Critical"}},
		[]Target{{Name: "AA1"}, {Name: "AA1"}},
	)

	if len(got) != 2 {
		t.Fatalf("resolved %v, want 2 unique outlets", got)
	}
	if got[0] != "AA1" || got[1] != "AA2" {
		t.Errorf("first-seen order lost: %v", got)
	}
}

func TestResolveOutletsIgnoresUnknownGroups(t *testing.T) {
	groups := []Group{
		{Name: "Critical", OutletAccess: []string{"AA1"}},
	}

	got := ResolveOutlets(groups, []Target{{Name: "NoSuchGroup"}}, nil)
	if len(got) != 0 {
		t.Errorf("resolved %v, want none", got)
	}
}

func TestResolveOutletsIsCaseSensitive(t *testing.T) {
	groups := []Group{
		{Name: "Critical", OutletAccess: []string{"AA1"}},
	}

	got := ResolveOutlets(groups, []Target{{Name: "critical"}}, nil)
	if len(got) != 0 {
		t.Errorf("group names must be case-sensitive, resolved %v", got)
	}
}

func TestStatusReportFlagsInvalidNames(t *testing.T) {
	live := []Outlet{{ID: "AA1", State: "On"}}

	rows := StatusReport("pdu0", live, []string{"AA1", "ZZ9"})
	if len(rows) != 2 {
		t.Fatalf("rows: %v", rows)
	}
	if !strings.Contains(rows[0], "AA1") || !strings.Contains(rows[0], "On") {
		t.Errorf("row 0: %q", rows[0])
	}
	if !strings.Contains(rows[1], "ZZ9") || !strings.Contains(rows[1], "INVALID OUTLET NAME") {
		t.Errorf("row 1: %q", rows[1])
	}
	for _, row := range rows {
		if !strings.HasPrefix(row, "pdu0") {
			t.Errorf("row missing host prefix: %q", row)
		}
	}
}
