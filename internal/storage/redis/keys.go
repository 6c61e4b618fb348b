package redis

import (
	"fmt"

	"github.com/mcoot/creditshop-go/internal/model"
)

// Key prefix for all ledger data
const keyPrefix = "creditshop"

// playerKey returns the Redis key for a Player record
func playerKey(id model.PlayerID) string {
	return fmt.Sprintf("%s:player:%d", keyPrefix, id)
}

// nicknameIndexKey returns the Redis key for the nickname -> player_id index
func nicknameIndexKey(nickname string) string {
	return fmt.Sprintf("%s:idx:nickname:%s", keyPrefix, nickname)
}

// playerSeqKey returns the counter player ids are allocated from
func playerSeqKey() string {
	return fmt.Sprintf("%s:seq:player", keyPrefix)
}

// catalogKey returns the HASH of item_id -> item record
func catalogKey() string {
	return fmt.Sprintf("%s:catalog", keyPrefix)
}

// catalogSeededKey is set once the catalog has been written
func catalogSeededKey() string {
	return fmt.Sprintf("%s:catalog:seeded", keyPrefix)
}

// ownedKey returns the HASH of item_id -> acquired_at for a player
func ownedKey(id model.PlayerID) string {
	return fmt.Sprintf("%s:owned:%d", keyPrefix, id)
}
