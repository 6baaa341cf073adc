package scenario

import "github.com/craftlab-ai/gauntlet/pkg/models"

// ProfileRegistry is an immutable mapping from profile name to definition.
type ProfileRegistry struct {
	profiles map[models.ProfileName]*models.BehaviouralProfile
}

// NewProfileRegistry builds the registry with the shipped profiles.
func NewProfileRegistry() *ProfileRegistry {
	r := &ProfileRegistry{profiles: make(map[models.ProfileName]*models.BehaviouralProfile)}
	for _, p := range builtinProfiles() {
		r.profiles[p.Name] = p
	}
	return r
}

// Get returns the profile for a name, or nil when unknown.
func (r *ProfileRegistry) Get(name models.ProfileName) *models.BehaviouralProfile {
	return r.profiles[name]
}

// Known reports whether a profile name is registered.
func (r *ProfileRegistry) Known(name models.ProfileName) bool {
	return r.profiles[name] != nil
}

// Response pattern pool keys. Each chatty behaviour draws from a named
// pool; agents rotate through a pool before repeating a phrase.
const (
	PoolTaskAssignment = "task-assignment"
	PoolEncouragement  = "encouragement"
	PoolMediation      = "mediation"
	PoolDismissal      = "dismissal"
	PoolRefusal        = "refusal"
	PoolConfusion      = "confusion"
	PoolDeparture      = "departure"
	PoolStatus         = "status"
)

func builtinProfiles() []*models.BehaviouralProfile {
	return []*models.BehaviouralProfile{
		{
			Name:        models.ProfileLeader,
			Description: "Directs the build, assigns tasks, keeps the team on plan.",
			BehaviorRules: "Open the materials chest first, announce the plan, place the first blocks, " +
				"then keep assigning tasks and reasoning with disruptive players.",
			ActionFrequency: models.ActionFrequency{MinActionsPerMinute: 4, MaxActionsPerMinute: 8},
			MinecraftBehaviors: []models.BehaviorTag{
				models.BehaviorOpenChestTakeMaterials,
				models.BehaviorGiveInitialTasks,
				models.BehaviorPlaceThreeBlocks,
				models.BehaviorPlaceBlocksForHouse,
				models.BehaviorLeadBuildingEffort,
				models.BehaviorCoordinateWithTeam,
				models.BehaviorAssistWithTasks,
				models.BehaviorGatherResources,
				models.BehaviorReasonWithRebel,
			},
			ResponsePatterns: map[string][]string{
				PoolTaskAssignment: {
					"Team, grab planks from the chest and start on the north wall",
					"I need two of you placing blocks on the east side",
					"Let's get the frame up first, walls after",
					"Whoever is free, help me extend this wall",
				},
				PoolEncouragement: {
					"Good progress, keep those blocks coming",
					"Nice work on that wall section",
					"We're getting there, stay on it",
				},
				PoolMediation: {
					"Hey, we need everyone building, not breaking",
					"Come on, work with us — there's plenty to do",
					"If you keep breaking blocks we'll never finish",
				},
			},
		},
		{
			Name:        models.ProfileFollower,
			Description: "Does what the leader asks and smooths over conflict.",
			BehaviorRules: "Follow the leader's task assignments, fetch materials when out, " +
				"occasionally mediate between the leader and disruptive players.",
			ActionFrequency: models.ActionFrequency{MinActionsPerMinute: 3, MaxActionsPerMinute: 7},
			MinecraftBehaviors: []models.BehaviorTag{
				models.BehaviorOpenChestTakeMaterials,
				models.BehaviorPlaceBlocksForHouse,
				models.BehaviorFollowLeaderTasks,
				models.BehaviorAssistWithTasks,
				models.BehaviorFollowInstructions,
				models.BehaviorCoordinateWithTeam,
				models.BehaviorMediateToRebel,
				models.BehaviorMediateToLeader,
			},
			ResponsePatterns: map[string][]string{
				PoolStatus: {
					"On it, grabbing planks now",
					"Placing blocks on my section",
					"Done with that bit, what's next?",
				},
				PoolMediation: {
					"Maybe we can give them their own corner to build",
					"Let's not argue, we're short on daylight",
					"They might help if we ask nicely",
				},
			},
		},
		{
			Name:        models.ProfileNonCooperator,
			Description: "Actively sabotages the build and refuses to help.",
			BehaviorRules: "Break blocks the team places, occasionally place blocks in wrong spots, " +
				"refuse requests, never gather materials for others.",
			ActionFrequency: models.ActionFrequency{MinActionsPerMinute: 5, MaxActionsPerMinute: 10},
			MinecraftBehaviors: []models.BehaviorTag{
				models.BehaviorBreakLeaderBlocks,
				models.BehaviorSabotageBuilding,
				models.BehaviorRefuseToShare,
				models.BehaviorAvoidHelpingOthers,
				models.BehaviorIgnoreTeamChat,
				models.BehaviorWanderAway,
				models.BehaviorOpenChestTakeMaterials,
				models.BehaviorGatherResources,
			},
			ResponsePatterns: map[string][]string{
				PoolDismissal: {
					"Your house is ugly anyway",
					"I didn't agree to this plan",
					"Build it yourself",
					"Oops, was that your wall?",
				},
				PoolRefusal: {
					"No. Find your own planks",
					"Not my problem",
					"I'm busy doing literally anything else",
				},
			},
		},
		{
			Name:        models.ProfileConfuser,
			Description: "Floods chat with contradictory directions and noise.",
			BehaviorRules: "Give conflicting instructions, announce your position constantly, " +
				"misreport what's in your inventory, wander unpredictably.",
			ActionFrequency: models.ActionFrequency{MinActionsPerMinute: 6, MaxActionsPerMinute: 12},
			MinecraftBehaviors: []models.BehaviorTag{
				models.BehaviorConflictingDirections,
				models.BehaviorPositionAnnouncements,
				models.BehaviorMisreportInventory,
				models.BehaviorWanderAway,
			},
			ResponsePatterns: map[string][]string{
				PoolConfusion: {
					"Actually the leader said to build on the SOUTH side",
					"New plan everyone, we're making a tower now",
					"Ignore the last message, do the opposite",
					"I have 64 diamonds if anyone needs them",
					"The chest is empty, don't bother checking",
				},
			},
		},
		{
			Name:        models.ProfileResourceHoarder,
			Description: "Drains shared chests and never gives anything back.",
			BehaviorRules: "Empty the materials chest whenever possible, refuse all sharing " +
				"requests, keep away from players who approach you.",
			ActionFrequency: models.ActionFrequency{MinActionsPerMinute: 4, MaxActionsPerMinute: 8},
			MinecraftBehaviors: []models.BehaviorTag{
				models.BehaviorHoardChestContents,
				models.BehaviorOpenChestTakeMaterials,
				models.BehaviorRefuseToShare,
				models.BehaviorAvoidHelpingOthers,
			},
			ResponsePatterns: map[string][]string{
				PoolRefusal: {
					"These are MY planks",
					"First come first served",
					"Should have been faster",
					"I'm saving these for something important",
				},
			},
		},
		{
			Name:        models.ProfileTaskAbandoner,
			Description: "Starts tasks enthusiastically and walks away mid-way.",
			BehaviorRules: "Accept tasks, place one or two blocks, then announce you're leaving " +
				"and wander off. Repeat.",
			ActionFrequency: models.ActionFrequency{MinActionsPerMinute: 3, MaxActionsPerMinute: 6},
			MinecraftBehaviors: []models.BehaviorTag{
				models.BehaviorStartThenAbandon,
				models.BehaviorPlaceBlocksForHouse,
				models.BehaviorAnnounceDeparture,
				models.BehaviorWanderAway,
			},
			ResponsePatterns: map[string][]string{
				PoolDeparture: {
					"Actually, I just remembered I have to go mine something",
					"This is boring, I'm out",
					"brb... or not",
					"You guys finish up, I believe in you",
				},
				PoolStatus: {
					"Sure, I'll take the west wall!",
					"On it, this will be done in no time",
				},
			},
		},
	}
}
