package main

import "fmt"

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// matchProfile builds an active profile with coordinates for ranking tests.
func matchProfile(id, age int, lat, lon float64, tags ...string) *UserProfile {
	return &UserProfile{
		ID:        id,
		Username:  fmt.Sprintf("user%d", id),
		Age:       intPtr(age),
		Latitude:  floatPtr(lat),
		Longitude: floatPtr(lon),
		Hashtags:  tags,
		IsActive:  true,
	}
}
