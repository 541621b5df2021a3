package domain

import "strings"

// Room topics follow fixed prefixes. Connections join rooms to receive
// targeted broadcasts; membership is mirrored into the backplane so any
// instance can publish to a room.
const (
	roomUserPrefix      = "user:"
	roomWatchlistPrefix = "watchlist:"
	roomTradesPrefix    = "trades:"

	// RoomAll addresses every active connection on every instance.
	RoomAll = "*"
)

// UserRoom returns the private room for a user. A connection may only be a
// member of UserRoom(id) when its Identity.UserID equals id.
func UserRoom(userID string) string {
	return roomUserPrefix + userID
}

// WatchlistRoom returns the quote-stream room for a symbol.
func WatchlistRoom(symbol string) string {
	return roomWatchlistPrefix + strings.ToUpper(symbol)
}

// TradesRoom returns the trade-event room for a portfolio or account ID.
func TradesRoom(id string) string {
	return roomTradesPrefix + id
}

// RoomOwner extracts the user ID from a `user:<id>` room.
// Returns "" when the room is not a user room.
func RoomOwner(room string) string {
	if strings.HasPrefix(room, roomUserPrefix) {
		return strings.TrimPrefix(room, roomUserPrefix)
	}
	return ""
}
