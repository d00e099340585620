// Package inventory renders Server records into the grouped INI artifact
// consumed by ansible-playbook.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"automation-hub/internal/store"
)

const ungrouped = "ungrouped"

// Render builds the grouped inventory text for the given servers. When
// group is non-empty only servers carrying that tag are included. Group
// sections are emitted in alphabetical order.
func Render(servers []store.Server, group string) string {
	buckets := make(map[string][]store.Server)
	for _, srv := range servers {
		tags := splitGroups(srv.Groups)
		if group != "" {
			if !containsGroup(tags, group) {
				continue
			}
			buckets[group] = append(buckets[group], srv)
			continue
		}
		if len(tags) == 0 {
			buckets[ungrouped] = append(buckets[ungrouped], srv)
			continue
		}
		for _, tag := range tags {
			buckets[tag] = append(buckets[tag], srv)
		}
	}

	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "[%s]\n", name)
		for _, srv := range buckets[name] {
			fmt.Fprintf(&b, "%s ansible_port=%d ansible_user=%s", srv.Hostname, srv.Port, srv.Username)
			if srv.Password != "" {
				fmt.Fprintf(&b, " ansible_ssh_pass=%s", srv.Password)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// WriteTemp writes the rendered inventory to a per-job temporary file and
// returns its path. The caller removes it once the job is done.
func WriteTemp(jobID uint, content string) (string, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("hub-inventory-%d.ini", jobID))
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("write inventory file: %w", err)
	}
	return path, nil
}

func splitGroups(raw string) []string {
	var tags []string
	for _, part := range strings.Split(raw, ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func containsGroup(tags []string, group string) bool {
	for _, tag := range tags {
		if tag == group {
			return true
		}
	}
	return false
}
