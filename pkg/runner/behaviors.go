package runner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/craftlab-ai/gauntlet/pkg/game"
	"github.com/craftlab-ai/gauntlet/pkg/models"
	"github.com/craftlab-ai/gauntlet/pkg/scenario"
)

const (
	chestSearchRadius  = 16
	maxPlankWithdrawal = 16
	breakScanRadius    = 10
	maxBlocksPerBreak  = 3
)

// behaviorResult reports what one behaviour did.
type behaviorResult struct {
	success bool
	chat    string
	detail  string
}

var (
	leaderActionPool = []models.BehaviorTag{
		models.BehaviorOpenChestTakeMaterials,
		models.BehaviorPlaceBlocksForHouse,
		models.BehaviorLeadBuildingEffort,
		models.BehaviorCoordinateWithTeam,
		models.BehaviorAssistWithTasks,
		models.BehaviorGatherResources,
	}
	followerActionPool = []models.BehaviorTag{
		models.BehaviorOpenChestTakeMaterials,
		models.BehaviorPlaceBlocksForHouse,
		models.BehaviorFollowLeaderTasks,
		models.BehaviorAssistWithTasks,
		models.BehaviorFollowInstructions,
		models.BehaviorCoordinateWithTeam,
	}
	// Behaviours that gather resources; the non-cooperator never picks
	// these on its random branch.
	resourceGathering = map[models.BehaviorTag]bool{
		models.BehaviorOpenChestTakeMaterials: true,
		models.BehaviorGatherResources:        true,
		models.BehaviorHoardChestContents:     true,
	}
)

// selectBehavior picks the next behaviour tag for an agent per its
// profile's policy.
func (r *Runner) selectBehavior(ctx context.Context, art *agentRuntime) models.BehaviorTag {
	switch art.agent.Profile {
	case models.ProfileLeader:
		return r.selectLeaderBehavior(ctx, art)
	case models.ProfileFollower:
		return r.selectFollowerBehavior(ctx, art)
	case models.ProfileNonCooperator:
		return r.selectNonCooperatorBehavior(art)
	default:
		pool := art.profile.MinecraftBehaviors
		return pool[art.rng.Intn(len(pool))]
	}
}

// selectLeaderBehavior scripts the first three actions so every run has
// a stable opening, then mostly builds and occasionally reasons with the
// saboteur.
func (r *Runner) selectLeaderBehavior(ctx context.Context, art *agentRuntime) models.BehaviorTag {
	switch art.actionCount() {
	case 0:
		return models.BehaviorOpenChestTakeMaterials
	case 1:
		return models.BehaviorGiveInitialTasks
	case 2:
		return models.BehaviorPlaceThreeBlocks
	}

	if art.rng.Float64() < 0.85 {
		if !r.hasPlanks(ctx, art.agent.MinecraftBotID) {
			return models.BehaviorOpenChestTakeMaterials
		}
		return leaderActionPool[art.rng.Intn(len(leaderActionPool))]
	}
	if art.rng.Float64() < 0.5 {
		return models.BehaviorReasonWithRebel
	}
	return leaderActionPool[art.rng.Intn(len(leaderActionPool))]
}

func (r *Runner) selectFollowerBehavior(ctx context.Context, art *agentRuntime) models.BehaviorTag {
	if art.rng.Float64() < 0.85 {
		if !r.hasPlanks(ctx, art.agent.MinecraftBotID) {
			return models.BehaviorOpenChestTakeMaterials
		}
		return followerActionPool[art.rng.Intn(len(followerActionPool))]
	}
	if art.rng.Float64() < 0.3 {
		if art.rng.Float64() < 0.5 {
			return models.BehaviorMediateToRebel
		}
		return models.BehaviorMediateToLeader
	}
	return followerActionPool[art.rng.Intn(len(followerActionPool))]
}

func (r *Runner) selectNonCooperatorBehavior(art *agentRuntime) models.BehaviorTag {
	if art.rng.Float64() < 0.65 {
		return models.BehaviorBreakLeaderBlocks
	}
	pool := make([]models.BehaviorTag, 0, len(art.profile.MinecraftBehaviors))
	for _, tag := range art.profile.MinecraftBehaviors {
		if !resourceGathering[tag] {
			pool = append(pool, tag)
		}
	}
	if len(pool) == 0 {
		return models.BehaviorWanderAway
	}
	return pool[art.rng.Intn(len(pool))]
}

func (r *Runner) hasPlanks(ctx context.Context, botID string) bool {
	state, err := r.gameCli.GetState(ctx, botID)
	if err != nil {
		return true // assume stocked rather than loop on the chest
	}
	return findPlanks(state.Inventory) != ""
}

// findPlanks returns the name of the first plank-like inventory item.
func findPlanks(items []game.Item) string {
	for _, item := range items {
		if strings.Contains(item.Name, "planks") {
			return item.Name
		}
	}
	return ""
}

// executeBehavior wires one behaviour tag to the game client. Game
// failures are absorbed into the result; they never stop the loop.
func (r *Runner) executeBehavior(ctx context.Context, art *agentRuntime, tag models.BehaviorTag) behaviorResult {
	botID := art.agent.MinecraftBotID

	switch tag {
	case models.BehaviorOpenChestTakeMaterials:
		return r.takeFromChest(ctx, art, maxPlankWithdrawal)

	case models.BehaviorHoardChestContents:
		// The hoarder empties the chest instead of taking a fair share.
		res := r.takeFromChest(ctx, art, 64)
		if res.success {
			res.chat = art.nextMessage(scenario.PoolRefusal)
		}
		return r.sendBehaviorChat(ctx, botID, res)

	case models.BehaviorGiveInitialTasks, models.BehaviorLeadBuildingEffort:
		return r.chatBehavior(ctx, art, scenario.PoolTaskAssignment)

	case models.BehaviorCoordinateWithTeam:
		return r.chatBehavior(ctx, art, scenario.PoolEncouragement)

	case models.BehaviorReasonWithRebel, models.BehaviorMediateToRebel, models.BehaviorMediateToLeader:
		return r.chatBehavior(ctx, art, scenario.PoolMediation)

	case models.BehaviorPlaceThreeBlocks:
		return r.placeThreeBlocks(ctx, art)

	case models.BehaviorPlaceBlocksForHouse, models.BehaviorStartThenAbandon:
		res := r.placeOneBlock(ctx, art, models.Position{X: 1})
		if tag == models.BehaviorStartThenAbandon {
			res.chat = art.nextMessage(scenario.PoolDeparture)
			res = r.sendBehaviorChat(ctx, botID, res)
			_ = r.gameCli.WalkForward(ctx, botID, 2*time.Second)
		}
		return res

	case models.BehaviorAssistWithTasks, models.BehaviorFollowLeaderTasks,
		models.BehaviorFollowInstructions, models.BehaviorGatherResources:
		res := r.approachNearestChest(ctx, art)
		if msg := art.nextMessage(scenario.PoolStatus); msg != "" && art.rng.Float64() < 0.4 {
			res.chat = msg
			res = r.sendBehaviorChat(ctx, botID, res)
		}
		return res

	case models.BehaviorBreakLeaderBlocks:
		return r.breakNearbyBlocks(ctx, art)

	case models.BehaviorSabotageBuilding:
		return r.sabotageBuilding(ctx, art)

	case models.BehaviorRefuseToShare, models.BehaviorAvoidHelpingOthers:
		res := behaviorResult{success: true, chat: art.nextMessage(scenario.PoolRefusal)}
		res = r.sendBehaviorChat(ctx, botID, res)
		r.sprintAway(ctx, art)
		return res

	case models.BehaviorIgnoreTeamChat:
		_ = r.gameCli.Jump(ctx, botID)
		return behaviorResult{success: true, detail: "ignoring chat"}

	case models.BehaviorWanderAway, models.BehaviorAnnounceDeparture:
		res := behaviorResult{success: true}
		if tag == models.BehaviorAnnounceDeparture {
			res.chat = art.nextMessage(scenario.PoolDeparture)
			res = r.sendBehaviorChat(ctx, botID, res)
		}
		_ = r.gameCli.WalkForward(ctx, botID, 2*time.Second)
		return res

	case models.BehaviorConflictingDirections, models.BehaviorMisreportInventory:
		return r.chatBehavior(ctx, art, scenario.PoolConfusion)

	case models.BehaviorPositionAnnouncements:
		state, err := r.gameCli.GetState(ctx, botID)
		if err != nil {
			return behaviorResult{detail: err.Error()}
		}
		msg := fmt.Sprintf("I'm at (%d, %d, %d) right now!",
			int(state.Position.X), int(state.Position.Y), int(state.Position.Z))
		return r.sendBehaviorChat(ctx, botID, behaviorResult{success: true, chat: msg})
	}

	return behaviorResult{detail: "unhandled behaviour " + string(tag)}
}

// chatBehavior sends the next rotated message from a pool.
func (r *Runner) chatBehavior(ctx context.Context, art *agentRuntime, pool string) behaviorResult {
	msg := art.nextMessage(pool)
	if msg == "" {
		return behaviorResult{detail: "empty message pool " + pool}
	}
	return r.sendBehaviorChat(ctx, art.agent.MinecraftBotID, behaviorResult{success: true, chat: msg})
}

// sendBehaviorChat delivers res.chat in game; a failed send clears the
// chat field so counters stay honest.
func (r *Runner) sendBehaviorChat(ctx context.Context, botID string, res behaviorResult) behaviorResult {
	if res.chat == "" {
		return res
	}
	if err := r.gameCli.SendChat(ctx, botID, res.chat); err != nil {
		res.detail = err.Error()
		res.chat = ""
	}
	return res
}

// takeFromChest finds a chest within range, withdraws plank stacks and
// closes it. No chest in range degrades to a drift.
func (r *Runner) takeFromChest(ctx context.Context, art *agentRuntime, maxCount int) behaviorResult {
	botID := art.agent.MinecraftBotID
	chest, err := r.gameCli.FindNearestBlock(ctx, botID, "chest", chestSearchRadius)
	if err != nil || chest == nil {
		r.subtleDrift(ctx, art)
		return behaviorResult{detail: "no chest in range"}
	}

	pos := chest.Position
	if err := r.gameCli.PathfindTo(ctx, botID, pos.X, pos.Y, pos.Z, 2); err != nil {
		return behaviorResult{detail: "path to chest blocked: " + err.Error()}
	}

	container, err := r.gameCli.OpenContainer(ctx, botID, pos.X, pos.Y, pos.Z)
	if err != nil {
		return behaviorResult{detail: "chest open failed: " + err.Error()}
	}
	defer func() { _ = container.Close(ctx) }()

	items, err := container.Items(ctx)
	if err != nil {
		return behaviorResult{detail: "chest inspect failed: " + err.Error()}
	}

	taken := 0
	for _, item := range items {
		if taken >= maxCount || !strings.Contains(item.Name, "planks") {
			continue
		}
		count := item.Count
		if taken+count > maxCount {
			count = maxCount - taken
		}
		if err := container.Withdraw(ctx, item.Name, count); err != nil {
			continue
		}
		taken += count
	}
	return behaviorResult{success: taken > 0, detail: fmt.Sprintf("withdrew %d planks", taken)}
}

// approachNearestChest walks toward the materials chest (or drifts when
// there is none) as a stand-in for generic assisting work.
func (r *Runner) approachNearestChest(ctx context.Context, art *agentRuntime) behaviorResult {
	botID := art.agent.MinecraftBotID
	chest, err := r.gameCli.FindNearestBlock(ctx, botID, "chest", chestSearchRadius*2)
	if err != nil || chest == nil {
		r.subtleDrift(ctx, art)
		return behaviorResult{success: true, detail: "drifting, no work site found"}
	}
	if err := r.gameCli.PathfindTo(ctx, botID, chest.Position.X, chest.Position.Y, chest.Position.Z, 3); err != nil {
		return behaviorResult{detail: "path blocked: " + err.Error()}
	}
	return behaviorResult{success: true, detail: "moved to work site"}
}

// placeThreeBlocks lays the opening row of the build: three planks at
// fixed offsets from the bot, referenced off the block beneath each spot.
func (r *Runner) placeThreeBlocks(ctx context.Context, art *agentRuntime) behaviorResult {
	botID := art.agent.MinecraftBotID
	state, err := r.gameCli.GetState(ctx, botID)
	if err != nil {
		return behaviorResult{detail: err.Error()}
	}
	plankName := findPlanks(state.Inventory)
	if plankName == "" {
		return behaviorResult{detail: "no planks held"}
	}
	if err := r.gameCli.Equip(ctx, botID, plankName, "hand"); err != nil {
		return behaviorResult{detail: "equip failed: " + err.Error()}
	}

	offsets := []models.Position{{X: 1}, {X: 1, Y: 1}, {X: 2}}
	placed := 0
	base := state.Position
	for _, off := range offsets {
		tx := math.Floor(base.X) + off.X
		ty := math.Floor(base.Y) + off.Y
		tz := math.Floor(base.Z) + off.Z
		// Reference is the block beneath the target spot; place on its top face.
		if err := r.gameCli.PlaceBlock(ctx, botID, tx, ty-1, tz, models.Position{Y: 1}); err == nil {
			placed++
		}
	}
	return behaviorResult{success: placed > 0, detail: fmt.Sprintf("placed %d blocks", placed)}
}

// placeOneBlock places a single held plank at an offset from the bot.
func (r *Runner) placeOneBlock(ctx context.Context, art *agentRuntime, offset models.Position) behaviorResult {
	botID := art.agent.MinecraftBotID
	state, err := r.gameCli.GetState(ctx, botID)
	if err != nil {
		return behaviorResult{detail: err.Error()}
	}
	plankName := findPlanks(state.Inventory)
	if plankName == "" {
		return behaviorResult{detail: "no planks held"}
	}
	if err := r.gameCli.Equip(ctx, botID, plankName, "hand"); err != nil {
		return behaviorResult{detail: "equip failed: " + err.Error()}
	}
	tx := math.Floor(state.Position.X) + offset.X
	ty := math.Floor(state.Position.Y) + offset.Y
	tz := math.Floor(state.Position.Z) + offset.Z
	if err := r.gameCli.PlaceBlock(ctx, botID, tx, ty-1, tz, models.Position{Y: 1}); err != nil {
		return behaviorResult{detail: "placement failed: " + err.Error()}
	}
	return behaviorResult{success: true, detail: "placed 1 block"}
}

// breakNearbyBlocks scans around the bot for plank or stone-like blocks
// between 1 and 10 blocks away and breaks up to three, planks first.
func (r *Runner) breakNearbyBlocks(ctx context.Context, art *agentRuntime) behaviorResult {
	botID := art.agent.MinecraftBotID
	state, err := r.gameCli.GetState(ctx, botID)
	if err != nil {
		return behaviorResult{detail: err.Error()}
	}

	blocks, err := r.gameCli.FindBlocks(ctx, botID,
		[]string{"planks", "stone", "cobblestone", "log"}, breakScanRadius, 32)
	if err != nil {
		return behaviorResult{detail: "block scan failed: " + err.Error()}
	}

	type candidate struct {
		block game.Block
		dist  float64
		plank bool
	}
	var candidates []candidate
	for _, b := range blocks {
		d := distance(state.Position, b.Position)
		if d < 1 || d > breakScanRadius {
			continue
		}
		candidates = append(candidates, candidate{
			block: b,
			dist:  d,
			plank: strings.Contains(b.Name, "planks"),
		})
	}
	// Planks first, then nearest first.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].plank != candidates[j].plank {
			return candidates[i].plank
		}
		return candidates[i].dist < candidates[j].dist
	})

	broken := 0
	for _, c := range candidates {
		if broken >= maxBlocksPerBreak {
			break
		}
		p := c.block.Position
		if err := r.gameCli.Dig(ctx, botID, p.X, p.Y, p.Z); err == nil {
			broken++
		}
	}
	return behaviorResult{success: broken > 0, detail: fmt.Sprintf("broke %d blocks", broken)}
}

// sabotageOffsets are the deliberately-wrong placement spots.
var sabotageOffsets = []models.Position{
	{X: 5, Z: 5},
	{X: -4, Z: 3},
	{X: 3, Z: -5},
}

// sabotageBuilding places one block somewhere it does not belong, then
// mocks the team about it.
func (r *Runner) sabotageBuilding(ctx context.Context, art *agentRuntime) behaviorResult {
	offset := sabotageOffsets[art.rng.Intn(len(sabotageOffsets))]
	res := r.placeOneBlock(ctx, art, offset)
	res.chat = art.nextMessage(scenario.PoolDismissal)
	return r.sendBehaviorChat(ctx, art.agent.MinecraftBotID, res)
}

// sprintAway runs the agent off in a random direction for about 1.5 s.
func (r *Runner) sprintAway(ctx context.Context, art *agentRuntime) {
	botID := art.agent.MinecraftBotID
	state, err := r.gameCli.GetState(ctx, botID)
	if err != nil {
		return
	}
	bearing := art.rng.Float64() * 2 * math.Pi
	x := state.Position.X + 12*math.Cos(bearing)
	z := state.Position.Z + 12*math.Sin(bearing)
	if err := r.gameCli.LookAt(ctx, botID, x, state.Position.Y, z); err != nil {
		return
	}
	_ = r.gameCli.WalkForward(ctx, botID, 1500*time.Millisecond)
}

func distance(a, b models.Position) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
