package auth

import "testing"

func TestLevelOf(t *testing.T) {
	cases := map[Role]int{
		RoleTechnician: 20,
		RoleManager:    40,
		RoleDirector:   60,
		RoleAdmin:      80,
		RoleOwner:      100,
		Role("intern"): 0,
		Role(""):       0,
	}
	for role, want := range cases {
		if got := LevelOf(role); got != want {
			t.Fatalf("LevelOf(%q)=%d, want %d", role, got, want)
		}
	}
}

func TestCanManageExamples(t *testing.T) {
	owner := Principal{ID: "o1", Role: RoleOwner}
	admin := Principal{ID: "a1", Role: RoleAdmin}
	otherAdmin := Principal{ID: "a2", Role: RoleAdmin}
	director := Principal{ID: "d1", Role: RoleDirector}
	manager := Principal{ID: "m1", Role: RoleManager}
	tech := Principal{ID: "t1", Role: RoleTechnician}

	cases := []struct {
		name    string
		manager Principal
		target  Principal
		want    bool
	}{
		{"owner manages admin", owner, admin, true},
		{"owner cannot manage self", owner, owner, false},
		{"admin cannot manage self", admin, admin, false},
		{"admin cannot manage peer admin", admin, otherAdmin, false},
		{"admin manages director", admin, director, true},
		{"director manages manager", director, manager, true},
		{"director cannot manage admin", director, admin, false},
		{"manager cannot manage director", manager, director, false},
		{"manager cannot manage technician", manager, tech, false},
		{"technician manages nobody", tech, Principal{ID: "t2", Role: RoleTechnician}, false},
		{"technician cannot manage owner", tech, owner, false},
		{"owner manages another owner", owner, Principal{ID: "o2", Role: RoleOwner}, true},
		{"director manages unranked", director, Principal{ID: "x", Role: Role("intern")}, true},
	}
	for _, tc := range cases {
		if got := CanManage(tc.manager, tc.target); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

// The role table must agree with the level rule: a managing role needs a
// strictly higher level, and only owner/admin/director manage at all.
func TestCanManageRoleMatchesLevelRule(t *testing.T) {
	roles := []Role{RoleTechnician, RoleManager, RoleDirector, RoleAdmin, RoleOwner, Role("unknown")}
	for _, m := range roles {
		for _, target := range roles {
			var want bool
			switch m {
			case RoleOwner:
				want = true
			case RoleAdmin, RoleDirector:
				want = LevelOf(m) > LevelOf(target)
			}
			if got := CanManageRole(m, target); got != want {
				t.Fatalf("CanManageRole(%s, %s)=%v, want %v", m, target, got, want)
			}
		}
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole("  Director "); !ok || r != RoleDirector {
		t.Fatalf("unexpected parse: %q %v", r, ok)
	}
	if _, ok := ParseRole("superuser"); ok {
		t.Fatal("expected unknown role")
	}
}
