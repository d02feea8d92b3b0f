package templates

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestErrorAlert(t *testing.T) {
	tests := []struct {
		name    string
		message string
		action  string
		want    []string
		notWant []string
	}{
		{
			name:    "with action",
			message: "No rows to process",
			action:  "Add at least one data row",
			want:    []string{`role="alert"`, `data-code="VAL002"`, "No rows to process", `class="alert-action"`, "Code: VAL002"},
		},
		{
			name:    "without action",
			message: "Something went wrong",
			want:    []string{"Something went wrong", "Code: VAL002"},
			notWant: []string{"alert-action"},
		},
		{
			name:    "escapes markup",
			message: `<script>alert(1)</script>`,
			want:    []string{"&lt;script&gt;"},
			notWant: []string{"<script>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := ErrorAlert(tt.message, tt.action, "VAL002").Render(context.Background(), &buf); err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			got := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("output missing %q: %s", w, got)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(got, nw) {
					t.Errorf("output contains %q: %s", nw, got)
				}
			}
		})
	}
}
