// ABOUTME: Tests for the identity pack's directory tools.
// ABOUTME: Exercises user, group, policy, and access key lifecycles end to end.

package identity

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/halcyard/toolgate/internal/provider"
)

func newTestPack(t *testing.T) *provider.Pack {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPack(db, nil)
}

func call(t *testing.T, pack *provider.Pack, tool, input string) (json.RawMessage, error) {
	t.Helper()
	tl := pack.Tool(tool)
	if tl == nil {
		t.Fatalf("pack has no tool %q", tool)
	}
	return tl.Handler(context.Background(), json.RawMessage(input))
}

func mustCall(t *testing.T, pack *provider.Pack, tool, input string) json.RawMessage {
	t.Helper()
	out, err := call(t, pack, tool, input)
	if err != nil {
		t.Fatalf("%s failed: %v", tool, err)
	}
	return out
}

func TestUserLifecycle(t *testing.T) {
	pack := newTestPack(t)

	mustCall(t, pack, "create_user", `{"user_name":"alice"}`)
	mustCall(t, pack, "create_user", `{"user_name":"bob"}`)

	if _, err := call(t, pack, "create_user", `{"user_name":"alice"}`); err == nil {
		t.Error("expected duplicate user to be rejected")
	}
	if _, err := call(t, pack, "create_user", `{"user_name":""}`); err == nil {
		t.Error("expected empty user name to be rejected")
	}

	out := mustCall(t, pack, "list_users", `{}`)
	var listed struct {
		Users []struct {
			Name string `json:"name"`
		} `json:"users"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(out, &listed); err != nil {
		t.Fatal(err)
	}
	if listed.Count != 2 || listed.Users[0].Name != "alice" {
		t.Errorf("unexpected listing: %+v", listed)
	}

	mustCall(t, pack, "delete_user", `{"user_name":"bob"}`)
	if _, err := call(t, pack, "delete_user", `{"user_name":"bob"}`); err == nil {
		t.Error("expected deleting a missing user to fail")
	}
}

func TestGroupMembership(t *testing.T) {
	pack := newTestPack(t)

	mustCall(t, pack, "create_user", `{"user_name":"alice"}`)
	mustCall(t, pack, "create_group", `{"group_name":"admins"}`)
	mustCall(t, pack, "add_user_to_group", `{"user_name":"alice","group_name":"admins"}`)

	out := mustCall(t, pack, "list_groups", `{}`)
	var listed struct {
		Groups []struct {
			Name    string   `json:"name"`
			Members []string `json:"members"`
		} `json:"groups"`
	}
	if err := json.Unmarshal(out, &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Groups) != 1 || len(listed.Groups[0].Members) != 1 || listed.Groups[0].Members[0] != "alice" {
		t.Errorf("unexpected groups: %+v", listed.Groups)
	}

	mustCall(t, pack, "remove_user_from_group", `{"user_name":"alice","group_name":"admins"}`)
	if _, err := call(t, pack, "remove_user_from_group", `{"user_name":"alice","group_name":"admins"}`); err == nil {
		t.Error("expected removing a non-member to fail")
	}
}

func TestPolicyAttachment(t *testing.T) {
	pack := newTestPack(t)

	mustCall(t, pack, "create_user", `{"user_name":"alice"}`)
	mustCall(t, pack, "attach_policy", `{"policy_name":"read-only","user_name":"alice","document":{"effect":"allow"}}`)

	out := mustCall(t, pack, "list_policies", `{}`)
	var listed struct {
		Policies []struct {
			Name       string   `json:"name"`
			AttachedTo []string `json:"attached_to"`
		} `json:"policies"`
	}
	if err := json.Unmarshal(out, &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Policies) != 1 || listed.Policies[0].Name != "read-only" {
		t.Fatalf("unexpected policies: %+v", listed.Policies)
	}
	if len(listed.Policies[0].AttachedTo) != 1 || listed.Policies[0].AttachedTo[0] != "alice" {
		t.Errorf("expected attachment to alice, got %v", listed.Policies[0].AttachedTo)
	}

	mustCall(t, pack, "detach_policy", `{"policy_name":"read-only","user_name":"alice"}`)
	if _, err := call(t, pack, "detach_policy", `{"policy_name":"read-only","user_name":"alice"}`); err == nil {
		t.Error("expected detaching twice to fail")
	}
}

func TestAccessKeys(t *testing.T) {
	pack := newTestPack(t)

	mustCall(t, pack, "create_user", `{"user_name":"alice"}`)

	out := mustCall(t, pack, "create_access_key", `{"user_name":"alice"}`)
	var created struct {
		AccessKeyID string `json:"access_key_id"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(out, &created); err != nil {
		t.Fatal(err)
	}
	if created.AccessKeyID == "" || created.Status != "active" {
		t.Fatalf("unexpected key: %+v", created)
	}

	if _, err := call(t, pack, "create_access_key", `{"user_name":"nobody"}`); err == nil {
		t.Error("expected key creation for missing user to fail")
	}

	out = mustCall(t, pack, "list_access_keys", `{"user_name":"alice"}`)
	var listed struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(out, &listed); err != nil {
		t.Fatal(err)
	}
	if listed.Count != 1 {
		t.Errorf("expected 1 key, got %d", listed.Count)
	}

	mustCall(t, pack, "delete_access_key", `{"access_key_id":"`+created.AccessKeyID+`"}`)
	if _, err := call(t, pack, "delete_access_key", `{"access_key_id":"`+created.AccessKeyID+`"}`); err == nil {
		t.Error("expected deleting a missing key to fail")
	}
}

func TestDeleteUserCascades(t *testing.T) {
	pack := newTestPack(t)

	mustCall(t, pack, "create_user", `{"user_name":"alice"}`)
	mustCall(t, pack, "create_group", `{"group_name":"admins"}`)
	mustCall(t, pack, "add_user_to_group", `{"user_name":"alice","group_name":"admins"}`)
	mustCall(t, pack, "create_access_key", `{"user_name":"alice"}`)

	mustCall(t, pack, "delete_user", `{"user_name":"alice"}`)

	out := mustCall(t, pack, "list_access_keys", `{}`)
	var keys struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(out, &keys); err != nil {
		t.Fatal(err)
	}
	if keys.Count != 0 {
		t.Errorf("expected keys to cascade away, got %d", keys.Count)
	}
}
