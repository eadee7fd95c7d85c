package pdu

import "fmt"

// ResolveOutlets expands requested groups into their member outlets using
// the controller's group definitions, unions them with explicitly
// requested outlets, and de-duplicates the result. First-seen order is
// kept so reports stay deterministic.
func ResolveOutlets(groups []Group, requestedGroups, requestedOutlets []Target) []string {
	var names []string
	for _, g := range groups {
		for _, req := range requestedGroups {
			if g.Name == req.Name {
				names = append(names, g.OutletAccess...)
			}
		}
	}
	for _, req := range requestedOutlets {
		names = append(names, req.Name)
	}
	return dedupe(names)
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// StatusReport formats one table row per requested outlet. A requested
// name absent from the live status list is flagged as invalid rather than
// silently dropped.
func StatusReport(host string, live []Outlet, requested []string) []string {
	rows := make([]string, 0, len(requested))
	for _, name := range requested {
		state, ok := findState(live, name)
		if !ok {
			state = "INVALID OUTLET NAME"
		}
		rows = append(rows, fmt.Sprintf("%-40s %-6s %s", host, name, state))
	}
	return rows
}

func findState(live []Outlet, id string) (string, bool) {
	for _, o := range live {
		if o.ID == id {
			return o.State, true
		}
	}
	return "", false
}
