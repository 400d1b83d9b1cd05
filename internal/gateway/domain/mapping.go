package domain

// GroupMapping maps each scope to the upstream groups that grant it.
type GroupMapping map[string][]string
