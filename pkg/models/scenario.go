package models

// ScenarioType identifies a static scenario definition.
type ScenarioType string

// Shipped scenarios.
const (
	ScenarioCooperation        ScenarioType = "cooperation"
	ScenarioResourceManagement ScenarioType = "resource-management"
)

// Position is a point in the game world.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ItemStack is an inventory entry used in initial conditions.
type ItemStack struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// SuccessCriteria controls the completion detector's 5-second poll.
// Nil fields are not evaluated.
type SuccessCriteria struct {
	MinCooperativeActions        *int     `json:"minCooperativeActions,omitempty"`
	MinTasksCompleted            *int     `json:"minTasksCompleted,omitempty"`
	MaxLLMErrorRate              *float64 `json:"maxLlmErrorRate,omitempty"`
	RequiresDiscordCommunication bool     `json:"requiresDiscordCommunication"`
}

// InitialConditions describe the world state a scenario starts from.
type InitialConditions struct {
	SpawnPosition           *Position   `json:"spawnPosition,omitempty"`
	TargetStartingInventory []ItemStack `json:"targetStartingInventory"`
	TesterStartingInventory []ItemStack `json:"testerStartingInventory"`
	TimeOfDay               string      `json:"timeOfDay"`
	Weather                 string      `json:"weather"`
}

// Scenario is a static, immutable recipe for a test run.
type Scenario struct {
	Type                   ScenarioType      `json:"type"`
	Name                   string            `json:"name"`
	Description            string            `json:"description"`
	DefaultProfiles        []ProfileName     `json:"defaultProfiles"`
	DefaultDurationSeconds int               `json:"defaultDurationSeconds"`
	ObjectivePrompt        string            `json:"objectivePrompt"`
	SuccessCriteria        SuccessCriteria   `json:"successCriteria"`
	InitialConditions      InitialConditions `json:"initialConditions"`
	RelevantMetrics        []string          `json:"relevantMetrics"`
}

// ScenarioInfo is the list-view projection returned by the API.
type ScenarioInfo struct {
	Type                   ScenarioType  `json:"type"`
	Name                   string        `json:"name"`
	Description            string        `json:"description"`
	DefaultProfiles        []ProfileName `json:"defaultProfiles"`
	DefaultDurationSeconds int           `json:"defaultDurationSeconds"`
}

// ProfileName identifies a behavioural profile archetype.
type ProfileName string

// Shipped behavioural profiles.
const (
	ProfileLeader         ProfileName = "leader"
	ProfileFollower       ProfileName = "follower"
	ProfileNonCooperator  ProfileName = "non-cooperator"
	ProfileConfuser       ProfileName = "confuser"
	ProfileResourceHoarder ProfileName = "resource-hoarder"
	ProfileTaskAbandoner  ProfileName = "task-abandoner"
)

// BehaviorTag names a scripted Minecraft behaviour.
type BehaviorTag string

// Behaviour tags referenced by the selection policies.
const (
	BehaviorOpenChestTakeMaterials BehaviorTag = "open-chest-and-take-materials"
	BehaviorGiveInitialTasks       BehaviorTag = "give-initial-tasks"
	BehaviorPlaceThreeBlocks       BehaviorTag = "place-three-blocks"
	BehaviorPlaceBlocksForHouse    BehaviorTag = "place-blocks-for-house"
	BehaviorLeadBuildingEffort     BehaviorTag = "lead-building-effort"
	BehaviorCoordinateWithTeam     BehaviorTag = "coordinate-with-team"
	BehaviorAssistWithTasks        BehaviorTag = "assist-with-tasks"
	BehaviorGatherResources        BehaviorTag = "gather-requested-resources"
	BehaviorReasonWithRebel        BehaviorTag = "reason-with-rebel"
	BehaviorFollowLeaderTasks      BehaviorTag = "follow-leader-tasks"
	BehaviorFollowInstructions     BehaviorTag = "follow-instructions"
	BehaviorMediateToRebel         BehaviorTag = "mediate-to-rebel"
	BehaviorMediateToLeader        BehaviorTag = "mediate-to-leader"
	BehaviorBreakLeaderBlocks      BehaviorTag = "break-leader-blocks"
	BehaviorSabotageBuilding       BehaviorTag = "sabotage-building"
	BehaviorRefuseToShare          BehaviorTag = "refuse-to-share"
	BehaviorAvoidHelpingOthers     BehaviorTag = "avoid-helping-others"
	BehaviorIgnoreTeamChat         BehaviorTag = "ignore-team-chat"
	BehaviorWanderAway             BehaviorTag = "wander-away"
	BehaviorConflictingDirections  BehaviorTag = "give-conflicting-directions"
	BehaviorPositionAnnouncements  BehaviorTag = "frequent-position-announcements"
	BehaviorMisreportInventory     BehaviorTag = "misreport-inventory"
	BehaviorHoardChestContents     BehaviorTag = "hoard-chest-contents"
	BehaviorStartThenAbandon       BehaviorTag = "start-task-then-abandon"
	BehaviorAnnounceDeparture      BehaviorTag = "announce-departure"
)

// ActionFrequency bounds how often a profile acts; the behaviour-loop tick
// interval is 60000 / mean(min, max) milliseconds.
type ActionFrequency struct {
	MinActionsPerMinute float64 `json:"minActionsPerMinute"`
	MaxActionsPerMinute float64 `json:"maxActionsPerMinute"`
}

// BehaviouralProfile is a static table entry governing a testing agent.
type BehaviouralProfile struct {
	Name               ProfileName             `json:"name"`
	Description        string                  `json:"description"`
	BehaviorRules      string                  `json:"behaviorRules"`
	ActionFrequency    ActionFrequency         `json:"actionFrequency"`
	MinecraftBehaviors []BehaviorTag           `json:"minecraftBehaviors"`
	ResponsePatterns   map[string][]string     `json:"responsePatterns"`
}
