package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserCredentialKey returns the cache key holding a user's current access credential
func (r *CacheKeyStruct) UserCredentialKey(userID string) string {
	return fmt.Sprintf("credential:%s", userID)
}

// AttemptResultsKey returns the cache key for the graded answers of a finalized attempt
func (r *CacheKeyStruct) AttemptResultsKey(attemptID string, userID string) string {
	return fmt.Sprintf("user:%s:attempt:%s:results", userID, attemptID)
}

var CacheKey = NewCacheKeyStruct()
