package llm

import (
	"context"
	"fmt"
)

// TripTasks asks for preparation tasks for a trip.
// The answer holds one TASK|title|description|due-date line per task.
func (m *Model) TripTasks(ctx context.Context, tripContext string) (string, error) {
	systemPrompt := `You are a meticulous travel planner. Produce the preparation tasks a traveller must complete before and during the trip described by the user.

Output format (one per line, nothing else):
TASK|title|description|due-date

Guidelines:
- Titles are short imperatives ("Book ferry to Split")
- Due dates use YYYY-MM-DD and fall before the step they prepare; leave empty when unknown
- Skip tasks that already appear in the existing task list
- Do not use the | character inside fields`

	userPrompt := fmt.Sprintf(`Trip:
%s

Tasks:`, tripContext)

	return m.GenerateWithSystem(ctx, systemPrompt, userPrompt)
}

// StepNarrative writes a short travel-journal paragraph for one step.
func (m *Model) StepNarrative(ctx context.Context, stepContext string) (string, error) {
	systemPrompt := `You write short, vivid travel-journal paragraphs. Using ONLY the facts provided, describe the stop in 2-4 sentences in the second person.
- Mention where the traveller sleeps and what they do when listed
- Mention a tight connection when the consistency note is WARNING or ERROR
- No headings, lists or invented facts`

	userPrompt := fmt.Sprintf(`Stop:
%s

Paragraph:`, stepContext)

	return m.GenerateWithSystem(ctx, systemPrompt, userPrompt)
}
