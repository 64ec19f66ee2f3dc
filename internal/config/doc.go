// Package config loads the segcache TOML configuration.
//
// # Configuration Discovery
//
// Load follows this resolution order:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/segcache/config.toml
//  3. If the file does not exist, return Default()
//  4. Fields that are missing or blank keep their defaults
//
// # Example
//
//	api_bind = "127.0.0.1:7487"
//	redis_addr = "127.0.0.1:6379"
//	snapshot_path = "~/.local/share/segcache/snapshot.json"
//	max_concurrent_fetches = 4
//	refresh_seconds = 30
//
//	[[segments]]
//	id = "users"
//	kind = "kv"
//	backend = "redis"
//
//	[[segments]]
//	id = "calc"
//	kind = "compute"
//	engine = "cel"
//
//	[[panels]]
//	title = "Alice"
//	segment = "users"
//	query = { username = "alice" }
//
//	[[panels]]
//	title = "Answer"
//	segment = "calc"
//	expr = "base * 2"
//	env = { base = 21 }
//	server_fetch = false
//
// # Validation
//
// Load only parses. Validate checks that segment IDs are unique, kinds and
// backends are known, and every panel names a declared segment with the
// fields its kind needs. All problems are returned together.
package config
