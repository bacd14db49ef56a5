package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"accessgate.dev/internal/audit"
	"accessgate.dev/internal/auth"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ACCESSGATE_STORE_DRIVER", "sqlite")
	t.Setenv("ACCESSGATE_SQLITE_PATH", filepath.Join(t.TempDir(), "portal.db"))
	t.Setenv("ACCESSGATE_STAFF_TOKEN_SECRET", "cli-test-secret-0123456789abcdef")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd("test", "abc123")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("portalctl %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func principalIDs(t *testing.T) map[auth.Role]string {
	t.Helper()
	var list []auth.Principal
	if err := json.Unmarshal([]byte(mustRun(t, "principal", "list", "--json")), &list); err != nil {
		t.Fatalf("decode principals: %v", err)
	}
	ids := make(map[auth.Role]string, len(list))
	for _, p := range list {
		ids[p.Role] = p.ID
	}
	return ids
}

func TestVersion(t *testing.T) {
	out := mustRun(t, "version")
	if !strings.Contains(out, "portalctl test (abc123)") {
		t.Fatalf("unexpected version output: %q", out)
	}
}

func TestMemoryDriverRejected(t *testing.T) {
	t.Setenv("ACCESSGATE_STORE_DRIVER", "memory")
	if _, err := run(t, "principal", "list"); err == nil {
		t.Fatal("expected error for memory driver")
	}
}

func TestLinkLifecycle(t *testing.T) {
	setupEnv(t)

	mustRun(t, "principal", "create", "--email", "tech@example.com", "--role", "technician")
	mustRun(t, "principal", "create", "--email", "mgr@example.com", "--name", "Manager", "--role", "manager")
	mustRun(t, "principal", "create", "--email", "dir@example.com", "--role", "director")
	ids := principalIDs(t)
	tech, mgr, dir := ids[auth.RoleTechnician], ids[auth.RoleManager], ids[auth.RoleDirector]
	if tech == "" || mgr == "" || dir == "" {
		t.Fatalf("missing principals: %+v", ids)
	}

	createArgs := []string{"link", "create", "--resource", "shade-7", "--stakeholder", "designer-1", "--email", "designer@example.com"}
	if _, err := run(t, append(createArgs, "--as", tech)...); err == nil {
		t.Fatal("expected technician to be refused")
	}

	out := mustRun(t, append(createArgs, "--as", mgr)...)
	if !strings.Contains(out, "Token: ") || !strings.Contains(out, "created") {
		t.Fatalf("unexpected create output: %q", out)
	}
	if _, err := run(t, append(createArgs, "--as", mgr)...); err == nil {
		t.Fatal("expected duplicate live link to fail")
	}
	out = mustRun(t, append(createArgs, "--as", mgr, "--reuse")...)
	if !strings.Contains(out, "rotated") {
		t.Fatalf("expected rotated token, got %q", out)
	}

	var links []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(mustRun(t, "link", "list", "--resource", "shade-7", "--json")), &links); err != nil {
		t.Fatalf("decode links: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected one link, got %d", len(links))
	}
	linkID := links[0].ID

	out = mustRun(t, "session", "revoke", linkID, "--as", mgr)
	if !strings.Contains(out, "Sessions of link "+linkID+" revoked") {
		t.Fatalf("unexpected session revoke output: %q", out)
	}
	out = mustRun(t, "resource", "close", "shade-7", "--as", dir)
	if !strings.Contains(out, "1 link(s) revoked") {
		t.Fatalf("unexpected close output: %q", out)
	}
	out = mustRun(t, "link", "revoke", linkID, "--as", mgr)
	if !strings.Contains(out, "(resource_closed)") {
		t.Fatalf("expected the original revoke reason to stick, got %q", out)
	}

	if _, err := run(t, "audit", "list", "--resource", "shade-7", "--as", mgr); err == nil {
		t.Fatal("expected manager audit read to be refused")
	}
	var events []audit.Event
	if err := json.Unmarshal([]byte(mustRun(t, "audit", "list", "--resource", "shade-7", "--as", dir, "--json")), &events); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected audit events for shade-7")
	}
	if _, err := run(t, "audit", "list", "--resource", "shade-7", "--actor", mgr, "--as", dir); err == nil {
		t.Fatal("expected error for two filters")
	}
}

func TestRoleCommands(t *testing.T) {
	setupEnv(t)

	mustRun(t, "principal", "create", "--email", "tech@example.com", "--role", "technician")
	mustRun(t, "principal", "create", "--email", "admin@example.com", "--role", "admin")
	ids := principalIDs(t)
	tech, admin := ids[auth.RoleTechnician], ids[auth.RoleAdmin]

	out := mustRun(t, "role", "check", admin, tech)
	if !strings.Contains(out, "can manage") {
		t.Fatalf("unexpected check output: %q", out)
	}
	if _, err := run(t, "role", "check", tech, admin); err == nil {
		t.Fatal("expected technician check to fail")
	}

	if _, err := run(t, "role", "set", tech, "admin", "--as", admin); err == nil {
		t.Fatal("expected admin to be refused minting another admin")
	}
	out = mustRun(t, "role", "set", tech, "director", "--as", admin)
	if !strings.Contains(out, "is now director") {
		t.Fatalf("unexpected set output: %q", out)
	}
}

func TestTokenMint(t *testing.T) {
	setupEnv(t)

	mustRun(t, "principal", "create", "--email", "mgr@example.com", "--role", "manager")
	ids := principalIDs(t)

	out := strings.TrimSpace(mustRun(t, "token", "mint", ids[auth.RoleManager], "--ttl", "5m"))
	if strings.Count(out, ".") != 2 {
		t.Fatalf("expected a JWT, got %q", out)
	}
	if _, err := run(t, "token", "mint", "missing"); err == nil {
		t.Fatal("expected error for unknown principal")
	}
}
