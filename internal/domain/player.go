package domain

import (
	"strings"
	"time"
)

// MaxIdentityLength is the longest accepted username after normalization
const MaxIdentityLength = 20

// PlayerRecord represents a player's best-ever stats on the leaderboard
type PlayerRecord struct {
	Username    string    `json:"username"`
	BestScore   int64     `json:"best_score"`
	TotalEarned int64     `json:"total_earned"`
	Prestiges   int64     `json:"prestiges"`
	Clicks      int64     `json:"clicks"`
	PlayTime    int64     `json:"play_time"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RankedRecord is a player record with its rank computed at read time
type RankedRecord struct {
	PlayerRecord
	Rank int64 `json:"rank"`
}

// ScoreSnapshot represents a client's score submission
type ScoreSnapshot struct {
	Username    string `json:"username"`
	BestScore   Count  `json:"best_score"`
	TotalEarned Count  `json:"total_earned"`
	Prestiges   Count  `json:"prestiges"`
	Clicks      Count  `json:"clicks"`
	PlayTime    Count  `json:"play_time"`
}

// NormalizeIdentity trims and lowercases a username
func NormalizeIdentity(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidIdentity reports whether an already normalized identity is acceptable
func ValidIdentity(identity string) bool {
	if len(identity) == 0 || len(identity) > MaxIdentityLength {
		return false
	}
	for i := 0; i < len(identity); i++ {
		c := identity[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}

// ParseIdentity normalizes a username and validates the result
func ParseIdentity(username string) (string, error) {
	identity := NormalizeIdentity(username)
	if !ValidIdentity(identity) {
		return "", ErrInvalidUsername
	}
	return identity, nil
}
