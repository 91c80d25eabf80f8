// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package keys

import "testing"

func TestKeyShapes(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"agents", Agents("p1"), "project:p1:agents"},
		{"heartbeat", Heartbeat("p1", "s-1"), "project:p1:heartbeat:s-1"},
		{"messages", Messages("p1", "s-1"), "project:p1:messages:s-1"},
		{"todos", Todos("p1", "s-1"), "project:p1:todos:s-1"},
		{"file lock", FileLock("p1", "src/a.ts"), "project:p1:files:src/a.ts"},
		{"interfaces", Interfaces("p1"), "project:p1:interfaces"},
		{"recent changes", RecentChanges("p1"), "project:p1:recent_changes"},
		{"completed tasks", CompletedTasks("p1"), "project:p1:completed_tasks"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %q, want %q", tc.got, tc.want)
			}
		})
	}
}

func TestProjectFromAgentsKey(t *testing.T) {
	project, ok := ProjectFromAgentsKey("project:p1:agents")
	if !ok || project != "p1" {
		t.Fatalf("got (%q, %v), want (\"p1\", true)", project, ok)
	}

	if _, ok := ProjectFromAgentsKey("project:p1:messages:s-1"); ok {
		t.Fatal("expected false for a non-agents key")
	}
}
