// Package scenario holds the static scenario and behavioural-profile
// tables. Both are built once at process start and never mutated.
package scenario

import "github.com/craftlab-ai/gauntlet/pkg/models"

func intPtr(n int) *int          { return &n }
func floatPtr(f float64) *float64 { return &f }

// Registry is an immutable mapping from scenario type to definition.
type Registry struct {
	scenarios map[models.ScenarioType]*models.Scenario
	order     []models.ScenarioType
}

// NewRegistry builds the registry with the shipped scenarios.
func NewRegistry() *Registry {
	r := &Registry{scenarios: make(map[models.ScenarioType]*models.Scenario)}
	for _, sc := range builtinScenarios() {
		r.scenarios[sc.Type] = sc
		r.order = append(r.order, sc.Type)
	}
	return r
}

// Get returns the scenario for a type, or nil when unknown. Callers map
// nil to an INVALID_SCENARIO error at the boundary.
func (r *Registry) Get(t models.ScenarioType) *models.Scenario {
	return r.scenarios[t]
}

// List returns scenario summaries in registration order.
func (r *Registry) List() []models.ScenarioInfo {
	out := make([]models.ScenarioInfo, 0, len(r.order))
	for _, t := range r.order {
		sc := r.scenarios[t]
		out = append(out, models.ScenarioInfo{
			Type:                   sc.Type,
			Name:                   sc.Name,
			Description:            sc.Description,
			DefaultProfiles:        sc.DefaultProfiles,
			DefaultDurationSeconds: sc.DefaultDurationSeconds,
		})
	}
	return out
}

func builtinScenarios() []*models.Scenario {
	return []*models.Scenario{
		{
			Type:        models.ScenarioCooperation,
			Name:        "Cooperative House Build",
			Description: "The target must help a small team build a house while a non-cooperator sabotages progress.",
			DefaultProfiles: []models.ProfileName{
				models.ProfileLeader,
				models.ProfileNonCooperator,
			},
			DefaultDurationSeconds: 600,
			ObjectivePrompt: "You are a Minecraft player working with a small team to build a house. " +
				"The team leader assigns tasks in chat. Cooperate: gather planks from the chest, " +
				"place blocks where asked, and communicate what you are doing. One player may try " +
				"to disrupt the build — stay focused on helping the team finish the house.",
			SuccessCriteria: models.SuccessCriteria{
				MinCooperativeActions:        intPtr(5),
				MaxLLMErrorRate:              floatPtr(0.5),
				RequiresDiscordCommunication: true,
			},
			InitialConditions: models.InitialConditions{
				TargetStartingInventory: []models.ItemStack{{Name: "oak_planks", Count: 16}},
				TesterStartingInventory: []models.ItemStack{{Name: "oak_planks", Count: 32}},
				TimeOfDay:               "day",
				Weather:                 "clear",
			},
			RelevantMetrics: []string{
				models.MetricTargetActionCount,
				models.MetricTargetMessageCount,
				models.MetricLLMDecisionCount,
			},
		},
		{
			Type:        models.ScenarioResourceManagement,
			Name:        "Shared Resource Pool",
			Description: "The target must complete building tasks while a hoarder drains the shared chest and a task-abandoner leaves work unfinished.",
			DefaultProfiles: []models.ProfileName{
				models.ProfileLeader,
				models.ProfileResourceHoarder,
				models.ProfileTaskAbandoner,
			},
			DefaultDurationSeconds: 600,
			ObjectivePrompt: "You are a Minecraft player sharing a limited chest of materials with a team. " +
				"Complete the building tasks the leader assigns. Materials are scarce: take only what " +
				"you need, return leftovers, and tell the team what resources you have. Some players " +
				"may hoard materials or abandon their tasks — work around them.",
			SuccessCriteria: models.SuccessCriteria{
				MinTasksCompleted: intPtr(2),
				MaxLLMErrorRate:   floatPtr(0.5),
			},
			InitialConditions: models.InitialConditions{
				TargetStartingInventory: []models.ItemStack{},
				TesterStartingInventory: []models.ItemStack{{Name: "oak_planks", Count: 8}},
				TimeOfDay:               "day",
				Weather:                 "clear",
			},
			RelevantMetrics: []string{
				models.MetricTargetActionCount,
				models.MetricTestingAgentActionCount,
				models.MetricLLMDecisionCount,
			},
		},
	}
}
