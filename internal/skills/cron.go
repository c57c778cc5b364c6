package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tidewaterlabs/moobot/internal/cron"
)

// CronSkill lets the model schedule, list and cancel reminders.
type CronSkill struct {
	engine *cron.Engine
	loc    *time.Location
}

func NewCronSkill(engine *cron.Engine, loc *time.Location) *CronSkill {
	if loc == nil {
		loc = time.Local
	}
	return &CronSkill{engine: engine, loc: loc}
}

func (s *CronSkill) ID() string { return "cron" }

func (s *CronSkill) Doc() string {
	return "cron_schedule sets reminders: pass at_ms for a one-off or " +
		"schedule (natural language or a cron expression) for recurring. " +
		"If the user's time, wording or target is ambiguous, ask before " +
		"scheduling; never invent the reminder text."
}

func (s *CronSkill) GroupSafe() bool { return false }

func (s *CronSkill) Tools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        "cron_schedule",
			Description: "Schedule a reminder, one-off or recurring",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "Short reminder name",
					},
					"message": map[string]interface{}{
						"type":        "string",
						"description": "Text the reminder should deliver, phrased as an instruction to the assistant",
					},
					"at_ms": map[string]interface{}{
						"type":        "integer",
						"description": "One-off: delivery time as unix milliseconds",
					},
					"in_seconds": map[string]interface{}{
						"type":        "integer",
						"description": "One-off: delivery delay from now, seconds",
					},
					"schedule": map[string]interface{}{
						"type":        "string",
						"description": "Recurring: cron expression or phrase like 'every 5 minutes'",
					},
				},
				"required": []string{"name", "message"},
			},
		},
		{
			Name:        "cron_list",
			Description: "List the scheduled reminders",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "cron_cancel",
			Description: "Cancel a reminder by id",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": map[string]interface{}{
						"type":        "string",
						"description": "Job id from cron_list",
					},
				},
				"required": []string{"id"},
			},
		},
	}
}

func (s *CronSkill) Execute(_ context.Context, ac *AgentContext, toolName string, args map[string]interface{}) *Result {
	switch toolName {
	case "cron_schedule":
		return s.schedule(ac, args)
	case "cron_list":
		return s.list()
	case "cron_cancel":
		return s.cancel(args)
	default:
		return ErrorResult(errJSON(fmt.Sprintf("cron: unknown tool %q", toolName)))
	}
}

func (s *CronSkill) schedule(ac *AgentContext, args map[string]interface{}) *Result {
	name := argString(args, "name")
	message := argString(args, "message")
	if name == "" || message == "" {
		return ErrorResult(errJSON("name and message are required"))
	}
	jid := ""
	if ac != nil {
		jid = ac.JID
	}
	if jid == "" {
		return ErrorResult(errJSON("no chat to deliver the reminder to"))
	}

	job := cron.Job{
		ID:      uuid.NewString(),
		Name:    name,
		Message: message,
		JID:     jid,
	}

	atMs := int64(argInt(args, "at_ms"))
	inSec := argInt(args, "in_seconds")
	expr := argString(args, "schedule")
	switch {
	case expr != "":
		normalized, err := cron.Normalize(expr)
		if err != nil {
			return ErrorResult(errJSON(err.Error()))
		}
		job.Schedule = cron.Schedule{Kind: cron.KindRecurring, Expr: normalized, TZ: s.loc.String()}
		if err := s.engine.AddRecurring(job); err != nil {
			return ErrorResult(errJSON(fmt.Sprintf("schedule failed: %v", err))).WithError(err)
		}
		return NewResult(fmt.Sprintf(`{"scheduled":"%s","id":"%s","expr":"%s"}`, name, job.ID, normalized))
	case atMs > 0 || inSec > 0:
		if atMs <= 0 {
			atMs = time.Now().Add(time.Duration(inSec) * time.Second).UnixMilli()
		}
		if atMs <= time.Now().UnixMilli() {
			return ErrorResult(errJSON("one-off time is in the past"))
		}
		job.Schedule = cron.Schedule{Kind: cron.KindOneShot, At: atMs}
		if err := s.engine.ScheduleOneShot(job); err != nil {
			return ErrorResult(errJSON(fmt.Sprintf("schedule failed: %v", err))).WithError(err)
		}
		at := time.UnixMilli(atMs).In(s.loc).Format("2006-01-02 15:04")
		return NewResult(fmt.Sprintf(`{"scheduled":"%s","id":"%s","at":"%s"}`, name, job.ID, at))
	default:
		return ErrorResult(errJSON("pass either at_ms/in_seconds (one-off) or schedule (recurring)"))
	}
}

func (s *CronSkill) list() *Result {
	jobs := s.engine.Jobs()
	if len(jobs) == 0 {
		return SilentResult("no reminders are scheduled")
	}
	type jobView struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Kind    string `json:"kind"`
		At      string `json:"at,omitempty"`
		Expr    string `json:"expr,omitempty"`
		Message string `json:"message"`
		Enabled bool   `json:"enabled"`
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		v := jobView{ID: j.ID, Name: j.Name, Kind: j.Schedule.Kind, Expr: j.Schedule.Expr, Message: j.Message, Enabled: j.Enabled}
		if j.Schedule.At > 0 {
			v.At = time.UnixMilli(j.Schedule.At).In(s.loc).Format("2006-01-02 15:04")
		}
		views = append(views, v)
	}
	b, err := json.Marshal(views)
	if err != nil {
		return ErrorResult(errJSON(fmt.Sprintf("encode jobs: %v", err)))
	}
	return SilentResult(string(b))
}

func (s *CronSkill) cancel(args map[string]interface{}) *Result {
	id := argString(args, "id")
	if id == "" {
		return ErrorResult(errJSON("id is required"))
	}
	removed, err := s.engine.Cancel(id)
	if err != nil {
		return ErrorResult(errJSON(fmt.Sprintf("cancel failed: %v", err))).WithError(err)
	}
	if !removed {
		return ErrorResult(errJSON(fmt.Sprintf("no reminder with id %s", id)))
	}
	return NewResult(fmt.Sprintf(`{"cancelled":"%s"}`, id))
}
