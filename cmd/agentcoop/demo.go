package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcoop"
	"github.com/hupe1980/agentcoop/core"
)

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a local three-agent coordination walkthrough",
		RunE: func(*cobra.Command, []string) error {
			return runDemo()
		},
	}
}

var (
	heading = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen)
	info    = color.New(color.FgYellow)
	dim     = color.New(color.Faint)
)

func runDemo() error {
	coop := agentcoop.New()

	heading.Println("== Registering agents ==")
	researcher := coop.RegisterAgent(core.AgentRegistration{
		Name:         "ResearchBot",
		Description:  "Gathers and summarizes source material",
		Capabilities: []core.Capability{"research", "web-search"},
	})
	writer := coop.RegisterAgent(core.AgentRegistration{
		Name:         "WriterBot",
		Description:  "Drafts prose from research notes",
		Capabilities: []core.Capability{"writing", "editing"},
	})
	reviewer := coop.RegisterAgent(core.AgentRegistration{
		Name:         "ReviewBot",
		Description:  "Reviews drafts for accuracy and tone",
		Capabilities: []core.Capability{"review", "editing"},
	})
	for _, a := range []*core.Agent{researcher, writer, reviewer} {
		success.Printf("  registered %s", a.Name)
		dim.Printf("  (%s)\n", a.ID)
	}

	heading.Println("\n== Shared context ==")
	workspace := coop.CreateContext(core.ContextCreateRequest{
		Name:        "article-workspace",
		Description: "Working state for the article pipeline",
		InitialData: map[string]any{"topic": "message buses", "stage": "research"},
	}, researcher.ID)
	success.Printf("  created context %s\n", workspace.Name)

	coop.UpdateContext(workspace.ID, map[string]any{
		"stage": "drafting",
		"notes": map[string]any{"sources": 3},
	}, researcher.ID)
	updated := coop.GetContext(workspace.ID)
	info.Printf("  stage is now %v with %d participants\n",
		updated.Data["stage"], len(updated.Participants))

	heading.Println("\n== Messaging ==")
	unsub := coop.SubscribeToMessages(writer.ID, func(msg core.Message) {
		dim.Printf("  [WriterBot inbox] %s from %s\n", msg.Type, msg.From)
	})
	defer unsub()
	coop.SendMessage(researcher.ID, writer.ID, "Notes are ready in the workspace", nil)
	coop.BroadcastMessage(researcher.ID, "research.done", map[string]any{"context_id": workspace.ID})

	heading.Println("\n== Task pipeline ==")
	parent := coop.CreateTask(core.TaskRequest{
		Type:        "write-article",
		Description: "Produce a reviewed article",
		ContextID:   workspace.ID,
	}, researcher.ID)
	success.Printf("  created parent task %s\n", parent.Type)

	draft := coop.Orchestrator.CreateSubtask(parent.ID, core.TaskRequest{
		Type:        "draft",
		Description: "Write the first draft",
	}, researcher.ID)
	review := coop.Orchestrator.CreateSubtask(parent.ID, core.TaskRequest{
		Type:        "review",
		Description: "Review the draft",
	}, researcher.ID)

	coop.AssignTask(parent.ID, writer.ID)
	coop.StartTask(parent.ID)

	runSubtask := func(taskID, agentID, artifact string) {
		coop.AssignTask(taskID, agentID)
		coop.StartTask(taskID)
		coop.CompleteTask(taskID, agentcoop.TaskCompletion{
			Success: true,
			Data:    map[string]any{"artifact": artifact},
			Artifacts: []agentcoop.ArtifactInput{
				{Type: "document", Name: artifact, Content: "..."},
			},
		})
		task := coop.GetTask(taskID)
		success.Printf("  %s finished with status %s\n", task.Type, task.Status)
	}
	runSubtask(draft.ID, writer.ID, "draft.md")
	runSubtask(review.ID, reviewer.ID, "review.md")

	finished := coop.GetTask(parent.ID)
	if finished.Status == core.TaskCompleted {
		success.Println("  parent task completed automatically from its subtasks")
		info.Printf("  aggregated %d artifacts\n", len(finished.Result.Artifacts))
	} else {
		info.Printf("  parent task is %s\n", finished.Status)
	}

	heading.Println("\n== System status ==")
	status := coop.GetStatus()
	fmt.Printf("  agents=%d tasks=%d (completed=%d) contexts=%d messages=%d\n",
		status.Agents, status.Tasks.Total, status.Tasks.Completed,
		status.Contexts, status.Messages)

	return nil
}
