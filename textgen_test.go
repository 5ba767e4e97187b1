package main

import (
	"context"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommentary(t *testing.T) {
	page := []Match{
		{Profile: matchProfile(2, 30, 12.98, 77.60, "coffee")},
		{Profile: matchProfile(3, 31, 12.99, 77.61, "hiking")},
	}

	t.Run("PlainArray", func(t *testing.T) {
		content := `[
			{"user_id": 2, "compatibility_reasons": ["Both love coffee"], "conversation_starters": ["a", "b", "c"], "shared_interests": ["coffee"]},
			{"user_id": 3, "compatibility_reasons": ["Close by"], "conversation_starters": ["x", "y", "z"], "shared_interests": []}
		]`
		out, err := parseCommentary(content, page)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, []string{"Both love coffee"}, out[2].CompatibilityReasons)
		assert.Equal(t, []string{"x", "y", "z"}, out[3].ConversationStarters)
	})

	t.Run("CodeFenced", func(t *testing.T) {
		content := "```json\n[{\"user_id\": 2, \"compatibility_reasons\": [\"r\"], \"conversation_starters\": [\"s\"], \"shared_interests\": []}]\n```"
		out, err := parseCommentary(content, page)
		require.NoError(t, err)
		assert.Contains(t, out, 2)
	})

	t.Run("OffPageEntriesDropped", func(t *testing.T) {
		content := `[
			{"user_id": 2, "compatibility_reasons": ["r"], "conversation_starters": ["s"], "shared_interests": []},
			{"user_id": 99, "compatibility_reasons": ["hallucinated"], "conversation_starters": ["s"], "shared_interests": []}
		]`
		out, err := parseCommentary(content, page)
		require.NoError(t, err)
		assert.Contains(t, out, 2)
		assert.NotContains(t, out, 99, "expected entries for unknown candidates to be dropped")
	})

	t.Run("EmptyReasonsDropped", func(t *testing.T) {
		content := `[{"user_id": 2, "compatibility_reasons": [], "conversation_starters": ["s"], "shared_interests": []}]`
		_, err := parseCommentary(content, page)
		assert.Error(t, err, "expected an error when nothing usable remains")
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := parseCommentary("I cannot help with that.", page)
		assert.Error(t, err)
	})
}

func TestCommentaryNilGenerator(t *testing.T) {
	var g *MatchTextGenerator
	out, ok := g.Commentary(context.Background(), matchProfile(1, 30, 12.97, 77.59), []Match{
		{Profile: matchProfile(2, 30, 12.98, 77.60)},
	})
	assert.False(t, ok, "a nil generator must report fallback")
	assert.Nil(t, out)
}

func TestCommentaryFailureDegradesSilently(t *testing.T) {
	// Point the client at a closed port: every request fails immediately,
	// and after three consecutive failures the breaker opens.
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = "http://127.0.0.1:1/v1"
	g := NewMatchTextGenerator(openai.NewClientWithConfig(cfg), "test-model", 200*time.Millisecond)

	requester := matchProfile(1, 30, 12.97, 77.59, "hiking")
	page := []Match{{Profile: matchProfile(2, 30, 12.98, 77.60, "hiking")}}

	for i := 0; i < 5; i++ {
		out, ok := g.Commentary(context.Background(), requester, page)
		assert.False(t, ok, "call %d: a failing generator must report fallback, never an error", i)
		assert.Nil(t, out)
	}
}

func TestFallbackCommentary(t *testing.T) {
	t.Run("SimilarAgeAndSharedInterests", func(t *testing.T) {
		a := matchProfile(1, 30, 12.97, 77.59, "hiking", "coffee", "music", "art")
		b := matchProfile(2, 32, 12.98, 77.60, "coffee", "hiking", "music", "art")
		b.FirstName = "Ravi"
		b.City = "Bangalore"
		a.City = "Bangalore"

		c := fallbackCommentary(a, b)
		assert.Contains(t, c.CompatibilityReasons, "Similar age range")
		assert.Contains(t, c.CompatibilityReasons, "Same city")

		var interestsReason string
		for _, r := range c.CompatibilityReasons {
			if strings.HasPrefix(r, "Shared interests: ") {
				interestsReason = r
			}
		}
		require.NotEmpty(t, interestsReason, "expected a shared-interests reason")
		// Preview is capped at three tags even when more are shared
		assert.Equal(t, 2, strings.Count(interestsReason, ","), "expected exactly three tags in the preview")

		assert.Len(t, c.ConversationStarters, 3)
		assert.Contains(t, c.ConversationStarters[0], "Ravi")
		assert.Len(t, c.SharedInterests, 4)
	})

	t.Run("CompatibleAgeRange", func(t *testing.T) {
		a := matchProfile(1, 30, 12.97, 77.59)
		b := matchProfile(2, 38, 12.98, 77.60)
		c := fallbackCommentary(a, b)
		assert.Contains(t, c.CompatibilityReasons, "Compatible age range")
		assert.NotContains(t, c.CompatibilityReasons, "Similar age range")
	})

	t.Run("DefaultReason", func(t *testing.T) {
		a := &UserProfile{ID: 1, Username: "a"}
		b := &UserProfile{ID: 2, Username: "b"}
		c := fallbackCommentary(a, b)
		assert.Equal(t, []string{"Potential compatibility based on profile"}, c.CompatibilityReasons)
		assert.Len(t, c.ConversationStarters, 3)
	})

	t.Run("LongBioTruncated", func(t *testing.T) {
		a := matchProfile(1, 30, 12.97, 77.59)
		b := matchProfile(2, 30, 12.98, 77.60)
		b.Bio = strings.Repeat("wander", 20)
		c := fallbackCommentary(a, b)
		for _, s := range c.ConversationStarters {
			if strings.Contains(s, "bio") {
				assert.LessOrEqual(t, len(s), 100, "expected the bio hook to be truncated")
			}
		}
	})

	t.Run("UsernameWhenNoFirstName", func(t *testing.T) {
		a := matchProfile(1, 30, 12.97, 77.59)
		b := matchProfile(2, 30, 12.98, 77.60)
		c := fallbackCommentary(a, b)
		assert.Contains(t, c.ConversationStarters[0], b.Username)
	})
}
