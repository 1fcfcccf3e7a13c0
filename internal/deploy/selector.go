// Package deploy resolves a deployment target list to appliance server ids.
package deploy

import (
	"fmt"
	"strings"

	"gitlab.bluewillows.net/root/rpzsync/pkg/bam"
)

// All selects every known server.
const All = "ALL"

// ConfigMismatchError reports a name list that matched no known server.
// Deployment is skipped; the run is still successful.
type ConfigMismatchError struct {
	Targets string
	Known   []string
}

func (e *ConfigMismatchError) Error() string {
	return fmt.Sprintf("deployment target %q matched none of %d known servers", e.Targets, len(e.Known))
}

// Select maps targets to server ids.
//
// "ALL" selects every server. Anything else is a comma-separated list of
// exact server names. A list that matches nothing yields an empty result
// and a *ConfigMismatchError; it is never widened to ALL.
// Names in the list with no matching server are returned as missing.
func Select(targets string, servers []bam.Server) (ids []bam.ID, missing []string, err error) {
	targets = strings.TrimSpace(targets)

	if targets == All {
		ids = make([]bam.ID, 0, len(servers))
		for _, s := range servers {
			ids = append(ids, s.ID)
		}
		return ids, nil, nil
	}

	wanted := ParseNames(targets)
	byName := make(map[string][]bam.ID, len(servers))
	for _, s := range servers {
		byName[s.Name] = append(byName[s.Name], s.ID)
	}

	seen := make(map[bam.ID]struct{})
	for _, name := range wanted {
		matched, ok := byName[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		for _, id := range matched {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	if len(ids) == 0 {
		known := make([]string, 0, len(servers))
		for _, s := range servers {
			known = append(known, s.Name)
		}
		return nil, missing, &ConfigMismatchError{Targets: targets, Known: known}
	}
	return ids, missing, nil
}

// ParseNames splits a comma-separated list, trimming blanks.
func ParseNames(targets string) []string {
	var names []string
	for _, part := range strings.Split(targets, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}
