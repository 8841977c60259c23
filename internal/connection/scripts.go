// internal/connection/scripts.go

package connection

import "github.com/go-redis/redis/v8"

// Session hash fields
const (
	fieldUser1     = "user1Id"
	fieldUser2     = "user2Id"
	fieldExpiresAt = "expiresAt"
	fieldExtended  = "extended"
	fieldState     = "state"
)

// vote script reply codes
const (
	voteNotParticipant = -3
	voteExpired        = -2
	voteNotFound       = -1
	votePending        = 1
	voteResolved       = 2
	voteRedundant      = 3
)

// end script reply codes
const (
	endNotParticipant = -2
	endNotDue         = -1
	endNotLive        = 0
	endDone           = 1
)

// KEYS: session, votes(action), votes(EXTEND), votes(CONVERT), expiry index
// ARGV: user, action, now ms, vote ttl ms, extended expiry ms, connection id,
//       session ttl ms after extension, tombstone ttl ms
// Reply: {code, count, added, partner, expiresAt}
var voteScript = redis.NewScript(`
local s = redis.call('HMGET', KEYS[1], 'user1Id', 'user2Id', 'state', 'expiresAt', 'extended')
if not s[1] or not s[2] then
  return {-1, 0, 0, '', 0}
end
local partner
if ARGV[1] == s[1] then
  partner = s[2]
elseif ARGV[1] == s[2] then
  partner = s[1]
else
  return {-3, 0, 0, '', 0}
end
if s[3] == 'CONVERTED' and ARGV[2] == 'CONVERT' then
  return {3, 2, 0, partner, 0}
end
if s[3] ~= 'ACTIVE' then
  return {-1, 0, 0, partner, 0}
end
local exp = tonumber(s[4]) or 0
if exp <= tonumber(ARGV[3]) then
  return {-2, 0, 0, partner, 0}
end
if ARGV[2] == 'EXTEND' and s[5] == '1' then
  return {3, 2, 0, partner, exp}
end
local added = redis.call('SADD', KEYS[2], ARGV[1])
local count = redis.call('SCARD', KEYS[2])
if count < 2 then
  redis.call('PEXPIRE', KEYS[2], ARGV[4])
  return {1, count, added, partner, exp}
end
redis.call('DEL', KEYS[3], KEYS[4])
if ARGV[2] == 'EXTEND' then
  redis.call('HSET', KEYS[1], 'expiresAt', ARGV[5], 'extended', '1')
  redis.call('ZADD', KEYS[5], ARGV[5], ARGV[6])
  redis.call('PEXPIRE', KEYS[1], ARGV[7])
  return {2, count, added, partner, tonumber(ARGV[5])}
end
redis.call('HSET', KEYS[1], 'state', 'CONVERTED')
redis.call('PEXPIRE', KEYS[1], ARGV[8])
redis.call('ZREM', KEYS[5], ARGV[6])
return {2, count, added, partner, 0}
`)

// KEYS: session, expiry index, votes(EXTEND)
// ARGV: new expiry ms, connection id, session ttl ms
// Reply: {ok, user1, user2}
var extendScript = redis.NewScript(`
local s = redis.call('HMGET', KEYS[1], 'user1Id', 'user2Id', 'state')
if not s[1] or not s[2] or s[3] ~= 'ACTIVE' then
  return {0, '', ''}
end
redis.call('HSET', KEYS[1], 'expiresAt', ARGV[1], 'extended', '1')
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('DEL', KEYS[3])
return {1, s[1], s[2]}
`)

// KEYS: session, votes(EXTEND), votes(CONVERT), expiry index
// ARGV: final state, tombstone ttl ms, connection id, due-before ms (0 skips
//       the check), required participant ('' skips the check)
// Reply: {code, user1, user2}
var endScript = redis.NewScript(`
local s = redis.call('HMGET', KEYS[1], 'user1Id', 'user2Id', 'state', 'expiresAt')
if not s[1] or not s[2] then
  return {0, '', ''}
end
if ARGV[5] ~= '' and ARGV[5] ~= s[1] and ARGV[5] ~= s[2] then
  return {-2, s[1], s[2]}
end
if s[3] ~= 'ACTIVE' then
  return {0, s[1], s[2]}
end
local due = tonumber(ARGV[4])
if due > 0 and (tonumber(s[4]) or 0) > due then
  return {-1, s[1], s[2]}
end
redis.call('HSET', KEYS[1], 'state', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('DEL', KEYS[2], KEYS[3])
redis.call('ZREM', KEYS[4], ARGV[3])
return {1, s[1], s[2]}
`)

func replyInt(reply []interface{}, i int) int64 {
	if i >= len(reply) {
		return 0
	}
	n, _ := reply[i].(int64)
	return n
}

func replyString(reply []interface{}, i int) string {
	if i >= len(reply) {
		return ""
	}
	s, _ := reply[i].(string)
	return s
}
