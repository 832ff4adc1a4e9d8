package redis

const (
	// putPreferenceScript atomically writes a value, its write time and the file index
	putPreferenceScript = `
local prefs_key = KEYS[1]     -- pedometer:prefs:{name}
local meta_key = KEYS[2]      -- pedometer:prefs:{name}:meta
local index_key = KEYS[3]     -- pedometer:prefs:index

local name = ARGV[1]
local key = ARGV[2]
local value = ARGV[3]
local updated_at = ARGV[4]

redis.call('HSET', prefs_key, key, value)
redis.call('HSET', meta_key, key, updated_at)
redis.call('SADD', index_key, name)

return 'OK'
`

	// removePreferenceScript atomically removes a value and its write time.
	// Returns 0 when the key did not exist.
	removePreferenceScript = `
local prefs_key = KEYS[1]     -- pedometer:prefs:{name}
local meta_key = KEYS[2]      -- pedometer:prefs:{name}:meta
local key = ARGV[1]

local removed = redis.call('HDEL', prefs_key, key)
redis.call('HDEL', meta_key, key)

return removed
`
)
