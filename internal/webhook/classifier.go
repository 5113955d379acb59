package webhook

import (
	"regexp"
	"strings"

	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// Intents recognized by the classifier.
const (
	IntentAskCommand         = "ask_command"
	IntentOnDemandReview     = "on_demand_review"
	IntentImprove            = "improve"
	IntentIssueDiscussion    = "issue_discussion"
	IntentFeatureDev         = "feature_dev"
	IntentAutoReview         = "auto_review"
	IntentAcceptanceTracking = "acceptance_tracking"
	IntentIncrementalReview  = "incremental_review"
	IntentHelpResponse       = "help_response"
)

// LabelFeatureDev on an issue requests autonomous feature development.
const LabelFeatureDev = "ai::develop"

var (
	askPattern     = regexp.MustCompile(`(?i)@ai\s+ask\s+"([^"]+)"`)
	reviewPattern  = regexp.MustCompile(`(?i)@ai\s+review\b`)
	improvePattern = regexp.MustCompile(`(?i)@ai\s+improve\b`)
	helpPattern    = regexp.MustCompile(`(?i)@ai\s+help\b`)
	mentionPattern = regexp.MustCompile(`(?i)@ai\b`)
)

// Classification is the classifier's verdict on one event.
type Classification struct {
	Intent             string
	TaskType           v1.TaskType
	Priority           v1.TaskPriority
	RequiresPermission bool

	// Question is the quoted text of an ask command.
	Question string
}

// Classifier maps typed webhook events to intents. It is a pure function of
// the event plus the configured bot account id.
type Classifier struct {
	botAccountID int64
}

// NewClassifier creates a classifier. botAccountID is the bot's own GitLab
// user id; its notes are never classified so the bot cannot react to itself.
func NewClassifier(botAccountID int64) *Classifier {
	return &Classifier{botAccountID: botAccountID}
}

// Classify returns the intent for an event, or nil when the event should be
// acknowledged but ignored. Rules are checked in precedence order; the bot
// author check runs before any note rule so the bot's own posts short out
// first.
func (c *Classifier) Classify(ev *Event) *Classification {
	switch ev.Kind {
	case KindNote:
		return c.classifyNote(ev)
	case KindIssue:
		return classifyIssue(ev.Issue)
	case KindMergeRequest:
		return classifyMergeRequest(ev.MergeRequest)
	case KindPush:
		// The dispatch service resolves the open MR for the branch; when
		// none exists only the correlation job runs.
		return &Classification{
			Intent:   IntentIncrementalReview,
			TaskType: v1.TaskTypeCodeReview,
			Priority: v1.TaskPriorityNormal,
		}
	}
	return nil
}

func (c *Classifier) classifyNote(ev *Event) *Classification {
	if c.botAccountID != 0 && ev.ActorID == c.botAccountID {
		return nil
	}
	note := ev.Note
	body := note.Body

	if m := askPattern.FindStringSubmatch(body); m != nil {
		return &Classification{
			Intent:             IntentAskCommand,
			TaskType:           v1.TaskTypeIssueDiscussion,
			Priority:           v1.TaskPriorityNormal,
			RequiresPermission: true,
			Question:           strings.TrimSpace(m[1]),
		}
	}

	if helpPattern.MatchString(body) {
		// Answered inline, never becomes a Task.
		return &Classification{
			Intent:   IntentHelpResponse,
			Priority: v1.TaskPriorityNormal,
		}
	}

	if note.NoteableType == NoteableMergeRequest {
		if reviewPattern.MatchString(body) {
			return &Classification{
				Intent:             IntentOnDemandReview,
				TaskType:           v1.TaskTypeCodeReview,
				Priority:           v1.TaskPriorityHigh,
				RequiresPermission: true,
			}
		}
		if improvePattern.MatchString(body) {
			return &Classification{
				Intent:             IntentImprove,
				TaskType:           v1.TaskTypeCodeReview,
				Priority:           v1.TaskPriorityNormal,
				RequiresPermission: true,
			}
		}
		if mentionPattern.MatchString(body) {
			// Any other @ai command on an MR gets the command reference
			// instead of being silently dropped.
			return &Classification{
				Intent:   IntentHelpResponse,
				Priority: v1.TaskPriorityNormal,
			}
		}
	}

	if note.NoteableType == NoteableIssue && mentionPattern.MatchString(body) {
		return &Classification{
			Intent:             IntentIssueDiscussion,
			TaskType:           v1.TaskTypeIssueDiscussion,
			Priority:           v1.TaskPriorityNormal,
			RequiresPermission: true,
		}
	}

	return nil
}

func classifyIssue(ev *IssueEvent) *Classification {
	if ev.Action != "open" && ev.Action != "update" {
		return nil
	}
	for _, label := range ev.Labels {
		if label == LabelFeatureDev {
			return &Classification{
				Intent:             IntentFeatureDev,
				TaskType:           v1.TaskTypeFeatureDev,
				Priority:           v1.TaskPriorityLow,
				RequiresPermission: true,
			}
		}
	}
	return nil
}

func classifyMergeRequest(ev *MergeRequestEvent) *Classification {
	switch ev.Action {
	case "open", "update":
		return &Classification{
			Intent:   IntentAutoReview,
			TaskType: v1.TaskTypeCodeReview,
			Priority: v1.TaskPriorityNormal,
		}
	case "merge":
		// Background correlation only, no Task row.
		return &Classification{Intent: IntentAcceptanceTracking}
	}
	return nil
}
