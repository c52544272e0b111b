package assistant

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestToolNamesAcceptsBothPersistedShapes(t *testing.T) {
	names, _ := json.Marshal([]string{"get_accounts", "get_goals"})
	objects, _ := json.Marshal([]map[string]any{
		{"name": "get_accounts", "arguments": map[string]any{}},
		{"name": "get_goals"},
	})

	want := []string{"get_accounts", "get_goals"}
	if got := ToolNames(names); !reflect.DeepEqual(got, want) {
		t.Fatalf("ToolNames(name array) = %v, want %v", got, want)
	}
	if got := ToolNames(objects); !reflect.DeepEqual(got, want) {
		t.Fatalf("ToolNames(object array) = %v, want %v", got, want)
	}
}

func TestToolNamesToleratesJunk(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, []byte(""), []byte("not json"), []byte(`{"name":"solo"}`), []byte(`[]`)} {
		if got := ToolNames(raw); got != nil {
			t.Fatalf("ToolNames(%q) = %v, want nil", raw, got)
		}
	}
}
