package config

// mergeRoles merges built-in and user-defined role configurations.
// User-defined roles override built-in roles with the same name.
func mergeRoles(builtin map[string]RoleYAML, user map[string]RoleYAML) map[string]RoleYAML {
	result := make(map[string]RoleYAML, len(builtin)+len(user))
	for name, role := range builtin {
		result[name] = role
	}
	for name, role := range user {
		result[name] = role
	}
	return result
}

// mergePools merges built-in and user-defined resource pool configurations.
// User-defined pools override built-in pools with the same name.
func mergePools(builtin map[string]PoolYAML, user map[string]PoolYAML) map[string]PoolYAML {
	result := make(map[string]PoolYAML, len(builtin)+len(user))
	for name, pool := range builtin {
		result[name] = pool
	}
	for name, pool := range user {
		result[name] = pool
	}
	return result
}
