package auth

// Permission names follow the resource:action convention. The catalog is
// seeded by migrations and read-only at runtime; the constants below exist
// so call sites never spell a permission with a string literal.
const (
	PermUsersCreate = "users:create"
	PermUsersRead   = "users:read"
	PermUsersUpdate = "users:update"
	PermUsersDelete = "users:delete"

	PermSchoolsCreate = "schools:create"
	PermSchoolsRead   = "schools:read"
	PermSchoolsUpdate = "schools:update"
	PermSchoolsDelete = "schools:delete"

	PermLevelsCreate = "levels:create"
	PermLevelsRead   = "levels:read"
	PermLevelsUpdate = "levels:update"
	PermLevelsDelete = "levels:delete"

	PermBranchesCreate = "branches:create"
	PermBranchesRead   = "branches:read"
	PermBranchesUpdate = "branches:update"
	PermBranchesDelete = "branches:delete"

	PermStudentsCreate = "students:create"
	PermStudentsRead   = "students:read"
	PermStudentsUpdate = "students:update"
	PermStudentsDelete = "students:delete"

	PermRolesCreate = "roles:create"
	PermRolesRead   = "roles:read"
	PermRolesUpdate = "roles:update"
	PermRolesDelete = "roles:delete"
	PermRolesAssign = "roles:assign"
)

// BuiltinPermissions is the seed catalog ensured at startup and by the
// migration seeds. Categories group permissions for listing.
var BuiltinPermissions = []Permission{
	{Name: PermUsersCreate, Category: "users", Description: "Create user accounts"},
	{Name: PermUsersRead, Category: "users", Description: "Read user accounts"},
	{Name: PermUsersUpdate, Category: "users", Description: "Update user accounts"},
	{Name: PermUsersDelete, Category: "users", Description: "Delete user accounts"},

	{Name: PermSchoolsCreate, Category: "schools", Description: "Create schools"},
	{Name: PermSchoolsRead, Category: "schools", Description: "Read schools"},
	{Name: PermSchoolsUpdate, Category: "schools", Description: "Update schools"},
	{Name: PermSchoolsDelete, Category: "schools", Description: "Delete schools"},

	{Name: PermLevelsCreate, Category: "levels", Description: "Create levels"},
	{Name: PermLevelsRead, Category: "levels", Description: "Read levels"},
	{Name: PermLevelsUpdate, Category: "levels", Description: "Update levels"},
	{Name: PermLevelsDelete, Category: "levels", Description: "Delete levels"},

	{Name: PermBranchesCreate, Category: "branches", Description: "Create branches"},
	{Name: PermBranchesRead, Category: "branches", Description: "Read branches"},
	{Name: PermBranchesUpdate, Category: "branches", Description: "Update branches"},
	{Name: PermBranchesDelete, Category: "branches", Description: "Delete branches"},

	{Name: PermStudentsCreate, Category: "students", Description: "Create students"},
	{Name: PermStudentsRead, Category: "students", Description: "Read students"},
	{Name: PermStudentsUpdate, Category: "students", Description: "Update students"},
	{Name: PermStudentsDelete, Category: "students", Description: "Delete students"},

	{Name: PermRolesCreate, Category: "roles", Description: "Create roles"},
	{Name: PermRolesRead, Category: "roles", Description: "Read roles and permissions"},
	{Name: PermRolesUpdate, Category: "roles", Description: "Update roles and their permissions"},
	{Name: PermRolesDelete, Category: "roles", Description: "Delete roles"},
	{Name: PermRolesAssign, Category: "roles", Description: "Assign and revoke user roles"},
}
