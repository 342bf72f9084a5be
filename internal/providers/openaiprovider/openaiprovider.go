// Package openaiprovider is the optional, concrete LLM-backed Planner/
// Writer/Patcher trio. It is never imported by internal/graph or
// internal/orchestrator directly — only wired in at cmd/novelgen's
// construction time — so the core engine stays provider-agnostic.
// Grounded on the teacher's internal/providers/structured_output.go
// repair-loop pattern and internal/providers/provider.go's ChatRequest
// shape, adapted onto github.com/openai/openai-go/v3.
package openaiprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jamesenh/novelgen/internal/domain"
	"github.com/jamesenh/novelgen/internal/errs"
)

// maxStructuredRepairAttempts bounds how many times a malformed structured
// response is re-requested with the validation errors appended before
// giving up, mirroring the teacher's maxStructuredRepairAttempts constant.
const maxStructuredRepairAttempts = 2

// Client wraps an OpenAI chat client with a model name and retry policy.
// It is the shared plumbing behind Planner, Writer, and Patcher.
type Client struct {
	api   openai.Client
	Model string
}

// New builds a Client from an API key and base URL (base URL empty uses
// the default OpenAI endpoint; set it to point at an OpenAI-compatible
// gateway instead).
func New(apiKey, baseURL, model string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{api: openai.NewClient(opts...), Model: model}
}

// chatJSON sends a system+user prompt pair and repairs structured output
// against schema up to maxStructuredRepairAttempts times, retrying
// transient HTTP failures with exponential backoff via retry-go.
func (c *Client) chatJSON(ctx context.Context, system, user string, sch *jsonschema.Schema, into any) error {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		openai.UserMessage(user),
	}

	var lastErr error
	for attempt := 0; attempt <= maxStructuredRepairAttempts; attempt++ {
		var raw string
		err := retry.Do(
			func() error {
				resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
					Model:    c.Model,
					Messages: messages,
				})
				if err != nil {
					return errs.NewTransientError("openai chat completion", err)
				}
				if len(resp.Choices) == 0 {
					return errs.NewTransientError("openai chat completion", fmt.Errorf("no choices returned"))
				}
				raw = resp.Choices[0].Message.Content
				return nil
			},
			retry.Context(ctx),
			retry.Attempts(4),
			retry.Delay(500*time.Millisecond),
			retry.DelayType(retry.BackOffDelay),
			retry.RetryIf(func(err error) bool {
				var te *errs.TransientError
				return asTransient(err, &te)
			}),
		)
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}

		candidate := extractJSON(raw)
		decoded, err := jsonschema.UnmarshalJSON(strings.NewReader(candidate))
		if err != nil {
			lastErr = fmt.Errorf("response is not valid JSON: %w", err)
			messages = append(messages, openai.AssistantMessage(raw), openai.UserMessage("That was not valid JSON: "+lastErr.Error()+". Reply again with corrected JSON only."))
			continue
		}
		if sch != nil {
			if verr := sch.Validate(decoded); verr != nil {
				lastErr = fmt.Errorf("response failed schema validation: %w", verr)
				messages = append(messages, openai.AssistantMessage(raw), openai.UserMessage("That JSON failed validation: "+verr.Error()+". Reply again with corrected JSON only."))
				continue
			}
		}
		return json.Unmarshal([]byte(candidate), into)
	}
	return fmt.Errorf("structured output never validated after %d attempts: %w", maxStructuredRepairAttempts+1, lastErr)
}

func asTransient(err error, target **errs.TransientError) bool {
	for err != nil {
		if te, ok := err.(*errs.TransientError); ok {
			*target = te
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// extractJSON strips markdown code fences that chat models commonly wrap
// structured output in.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Planner is the OpenAI-backed implementation of providers.Planner.
type Planner struct{ Client *Client }

func (p *Planner) Plan(ctx context.Context, state *domain.State, pack *domain.ContextPack) (*domain.ChapterPlan, error) {
	user := fmt.Sprintf("Outline chapter %d. Outline entry: %v\nRecent memory: %v\nOpen blockers: %v",
		state.CurrentChapter, pack.OutlineCurrent, pack.RecentMemory, pack.OpenBlockerReports)

	var plan domain.ChapterPlan
	if err := p.Client.chatJSON(ctx, chapterPlanSystemPrompt, user, nil, &plan); err != nil {
		return nil, err
	}
	plan.ChapterID = state.CurrentChapter
	plan.RevisionID = state.RevisionID
	plan.Metadata = domain.Metadata{SchemaVersion: 1, GeneratedAt: time.Now().UTC(), Generator: "openai-planner"}
	return &plan, nil
}

// Writer is the OpenAI-backed implementation of providers.Writer.
type Writer struct{ Client *Client }

func (w *Writer) Write(ctx context.Context, state *domain.State, plan *domain.ChapterPlan, pack *domain.ContextPack) (*domain.ChapterContent, error) {
	planJSON, _ := json.Marshal(plan)
	user := fmt.Sprintf("Write full prose for this chapter plan, scene by scene: %s", planJSON)

	var content domain.ChapterContent
	if err := w.Client.chatJSON(ctx, chapterContentSystemPrompt, user, nil, &content); err != nil {
		return nil, err
	}
	content.ChapterID = state.CurrentChapter
	content.RevisionID = state.RevisionID
	content.RevisionRound = state.RevisionRound
	content.Metadata = domain.Metadata{SchemaVersion: 1, GeneratedAt: time.Now().UTC(), Generator: "openai-writer"}
	content.TotalWordCount()
	return &content, nil
}

// Patcher is the OpenAI-backed implementation of providers.Patcher.
type Patcher struct{ Client *Client }

func (p *Patcher) Apply(ctx context.Context, state *domain.State, draft *domain.ChapterContent, blockers []domain.Issue, pack *domain.ContextPack) (*domain.ChapterContent, error) {
	if len(blockers) == 0 {
		return draft, nil
	}
	draftJSON, _ := json.Marshal(draft)
	blockersJSON, _ := json.Marshal(blockers)
	user := fmt.Sprintf("Revise this chapter draft to resolve the listed blocker issues, keeping everything else intact.\nDraft: %s\nBlockers: %s", draftJSON, blockersJSON)

	var patched domain.ChapterContent
	if err := p.Client.chatJSON(ctx, chapterContentSystemPrompt, user, nil, &patched); err != nil {
		return nil, err
	}
	patched.ChapterID = state.CurrentChapter
	patched.RevisionID = state.RevisionID
	patched.RevisionRound = state.RevisionRound
	patched.Metadata = domain.Metadata{SchemaVersion: 1, GeneratedAt: time.Now().UTC(), Generator: "openai-patcher"}
	patched.TotalWordCount()
	return &patched, nil
}

const chapterPlanSystemPrompt = `You are a novel outlining assistant. Reply with JSON matching the ChapterPlan shape only: chapter_id, pov, goal, conflict, turn, reveal, threads, must_include, must_avoid, scenes (each with index, location, pov, goal, conflict, turn, must_include). No prose, no commentary.`

const chapterContentSystemPrompt = `You are a novelist. Reply with JSON matching the ChapterContent shape only: chapter_id, revision_round, scenes (each with index, location, pov, goal, conflict, content, word_count), word_count. Write real, finished prose for every scene's content field.`
