package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	gobreaker "github.com/sony/gobreaker/v2"
)

// MatchCommentary is the per-candidate text that decorates a recommendation:
// why the pair fits, what to say first, what they share.
type MatchCommentary struct {
	CompatibilityReasons []string `json:"compatibility_reasons"`
	ConversationStarters []string `json:"conversation_starters"`
	SharedInterests      []string `json:"shared_interests"`
}

// MatchTextGenerator asks an LLM for richer commentary than the rule-based
// fallback produces. It is optional: every failure path ends in the caller
// using fallbackCommentary, never in an error reaching the client.
type MatchTextGenerator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[map[int]MatchCommentary]
}

// NewMatchTextGeneratorFromEnv builds a generator from OPENAI_API_KEY,
// OPENAI_BASE_URL and OPENAI_MODEL. Returns nil when no key is configured;
// the recommendation service treats nil as "deterministic captions only".
func NewMatchTextGeneratorFromEnv() *MatchTextGenerator {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil
	}
	cfg := openai.DefaultConfig(apiKey)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = openai.GPT4oMini
	}
	return NewMatchTextGenerator(openai.NewClientWithConfig(cfg), model, 5*time.Second)
}

func NewMatchTextGenerator(client *openai.Client, model string, timeout time.Duration) *MatchTextGenerator {
	return &MatchTextGenerator{
		client:  client,
		model:   model,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker[map[int]MatchCommentary](gobreaker.Settings{
			Name:    "match-textgen",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("Text generator breaker %s: %s -> %s", name, from, to)
			},
		}),
	}
}

// Commentary asks the model for commentary on every match of the page,
// keyed by candidate user id. The second return value is false whenever the
// caller should fall back to deterministic captions.
func (g *MatchTextGenerator) Commentary(ctx context.Context, requester *UserProfile, page []Match) (map[int]MatchCommentary, bool) {
	if g == nil || len(page) == 0 {
		return nil, false
	}

	out, err := g.breaker.Execute(func() (map[int]MatchCommentary, error) {
		reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.generate(reqCtx, requester, page)
	})
	if err != nil {
		log.Println("Match commentary generation failed, using fallback:", err)
		return nil, false
	}
	return out, true
}

func (g *MatchTextGenerator) generate(ctx context.Context, requester *UserProfile, page []Match) (map[int]MatchCommentary, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You are a matchmaking assistant for a social networking app. " +
					"For every candidate you receive, write 1-3 short compatibility reasons, " +
					"3 conversation starters addressed to the candidate, and list shared interests. " +
					"Respond with a JSON array of objects shaped as " +
					`{"user_id": int, "compatibility_reasons": [string], "conversation_starters": [string], "shared_interests": [string]}` +
					" and nothing else.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: commentaryPrompt(requester, page),
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion response")
	}
	return parseCommentary(resp.Choices[0].Message.Content, page)
}

func commentaryPrompt(requester *UserProfile, page []Match) string {
	var b strings.Builder
	b.WriteString("CURRENT USER:\n")
	writeProfileContext(&b, requester, nil)
	b.WriteString("\nCANDIDATES:\n")
	for _, m := range page {
		writeProfileContext(&b, m.Profile, &m.Result)
	}
	return b.String()
}

func writeProfileContext(b *strings.Builder, p *UserProfile, res *MatchResult) {
	fmt.Fprintf(b, "User ID: %d\nName: %s\n", p.ID, p.FullName())
	if p.Age != nil {
		fmt.Fprintf(b, "Age: %d\n", *p.Age)
	}
	if p.City != "" || p.State != "" {
		fmt.Fprintf(b, "Location: %s, %s\n", p.City, p.State)
	}
	if p.Bio != "" {
		fmt.Fprintf(b, "Bio: %s\n", p.Bio)
	}
	if len(p.Hashtags) > 0 {
		fmt.Fprintf(b, "Interests: %s\n", strings.Join(p.Hashtags, ", "))
	}
	if res != nil {
		fmt.Fprintf(b, "Match score: %.1f%%\n", res.Overall)
		if res.Distance != nil {
			fmt.Fprintf(b, "Distance: %.1f km\n", *res.Distance)
		}
	}
	b.WriteString("\n")
}

// parseCommentary decodes the model output and keeps only entries for
// candidates actually on the page. Models occasionally wrap the array in a
// code fence; strip it before decoding.
func parseCommentary(content string, page []Match) (map[int]MatchCommentary, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var items []struct {
		UserID int `json:"user_id"`
		MatchCommentary
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &items); err != nil {
		return nil, fmt.Errorf("decode commentary: %w", err)
	}

	onPage := make(map[int]struct{}, len(page))
	for _, m := range page {
		onPage[m.Profile.ID] = struct{}{}
	}

	out := make(map[int]MatchCommentary, len(items))
	for _, it := range items {
		if _, ok := onPage[it.UserID]; !ok {
			continue
		}
		if len(it.CompatibilityReasons) == 0 {
			continue
		}
		out[it.UserID] = it.MatchCommentary
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("commentary response matched no candidates")
	}
	return out, nil
}

// fallbackCommentary is the deterministic caption generator used when no LLM
// is configured or the call fails. It must always produce a valid result.
func fallbackCommentary(requester, candidate *UserProfile) MatchCommentary {
	shared := sharedHashtags(requester, candidate)

	var reasons []string
	if requester.Age != nil && candidate.Age != nil {
		ageDiff := *requester.Age - *candidate.Age
		if ageDiff < 0 {
			ageDiff = -ageDiff
		}
		if ageDiff <= 5 {
			reasons = append(reasons, "Similar age range")
		} else if ageDiff <= 10 {
			reasons = append(reasons, "Compatible age range")
		}
	}
	if len(shared) > 0 {
		preview := shared
		if len(preview) > 3 {
			preview = preview[:3]
		}
		reasons = append(reasons, "Shared interests: "+strings.Join(preview, ", "))
	}
	if candidate.City != "" && candidate.City == requester.City {
		reasons = append(reasons, "Same city")
	} else if candidate.State != "" && candidate.State == requester.State {
		reasons = append(reasons, "Same state")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "Potential compatibility based on profile")
	}

	interestHook := "similar things"
	if len(candidate.Hashtags) > 0 {
		interestHook = candidate.Hashtags[0]
	}
	bioHook := "your interests"
	if candidate.Bio != "" {
		bioHook = candidate.Bio
		if len(bioHook) > 50 {
			bioHook = bioHook[:50]
		}
	}
	name := candidate.FirstName
	if name == "" {
		name = candidate.Username
	}
	starters := []string{
		fmt.Sprintf("Hi %s! I noticed we both like %s", name, interestHook),
		fmt.Sprintf("Hello! Your bio about %s caught my attention", bioHook),
		fmt.Sprintf("Hey %s! I see you're from %s - I love that area!", name, candidate.City),
	}

	return MatchCommentary{
		CompatibilityReasons: reasons,
		ConversationStarters: starters,
		SharedInterests:      shared,
	}
}

func sharedHashtags(a, b *UserProfile) []string {
	bSet := lowerSet(b.Hashtags)
	var shared []string
	for _, tag := range a.Hashtags {
		if _, ok := bSet[strings.ToLower(tag)]; ok {
			shared = append(shared, tag)
		}
	}
	return shared
}
