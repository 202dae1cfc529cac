package service

import (
	"fmt"
	"time"
)

// partOfDay buckets a local hour the way the login screen does.
func partOfDay(hour int) string {
	switch {
	case hour >= 6 && hour < 12:
		return "good morning"
	case hour >= 12 && hour < 18:
		return "good afternoon"
	default:
		return "good evening"
	}
}

// Greeting builds the login title; lastUsername personalizes it when non-empty.
func Greeting(now time.Time, lastUsername string) string {
	if lastUsername == "" {
		return "Welcome, please log in"
	}
	return fmt.Sprintf("%s, %s, welcome back", lastUsername, partOfDay(now.Hour()))
}
