package auth

// manageTable lists, per managing role, the known target roles it may manage.
// Technicians and managers have no row and manage nobody.
var manageTable = map[Role]map[Role]bool{
	RoleOwner: {
		RoleOwner:      true,
		RoleAdmin:      true,
		RoleDirector:   true,
		RoleManager:    true,
		RoleTechnician: true,
	},
	RoleAdmin: {
		RoleDirector:   true,
		RoleManager:    true,
		RoleTechnician: true,
	},
	RoleDirector: {
		RoleManager:    true,
		RoleTechnician: true,
	},
}

// CanManageRole reports whether a holder of manager may manage a holder of target.
// It does not know about identity; see CanManage.
func CanManageRole(manager, target Role) bool {
	row, ok := manageTable[manager]
	if !ok {
		return false
	}
	if !target.Known() {
		// Unranked targets sit at level 0, below every managing role.
		return true
	}
	return row[target]
}

// CanManage reports whether manager may act on target's role. Nobody manages themselves.
func CanManage(manager, target Principal) bool {
	if manager.ID == target.ID {
		return false
	}
	return CanManageRole(manager.Role, target.Role)
}
