// Package syntax implements the tiered syntax manager (spec §4.6-§4.7):
// tier scheduling by byte size, single-flight-per-document parsing,
// monotonic install guard, viewport Stage-A/Stage-B lanes, permit-tied
// concurrency, and hotness-driven retention. Unlike internal/broker and
// internal/shareddoc, this is method-object, not actor-shaped (spec §5:
// "the syntax manager is method-object: its mutating methods require
// unique access; the owner is the editor's frame/tick loop"), grounded on
// the teacher's internal/timeline.Engine poll/dispatch loop shape.
package syntax

import (
	"time"

	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/ports"
)

// Tier is the byte-size tier a document is scheduled under (spec §4.6).
type Tier int

const (
	TierS Tier = iota
	TierM
	TierL
)

// Retention is the hidden-document retention policy for a tier's trees.
type Retention int

const (
	RetentionKeep Retention = iota
	RetentionDropWhenHidden
	RetentionDropAfterTTL
)

// Injections controls whether the engine resolves language injections.
type Injections int

const (
	InjectionsDisabled Injections = iota
	InjectionsEager
)

// ViewportWindow describes the sealed-window shape used for Stage-A/B
// viewport parses.
type ViewportWindow struct {
	Lookbehind int
	Lookahead  int
	Max        int
}

// StageBPolicy gates promotion from Stage-A (urgent) to Stage-B (enrich).
type StageBPolicy struct {
	MinStablePolls int
	Budget         int
}

// TierPolicy is the full per-tier configuration (spec §4.6).
type TierPolicy struct {
	MaxBytesInclusive        int
	Debounce                 time.Duration
	ParseTimeout             time.Duration
	CooldownOnTimeout        time.Duration
	CooldownOnError          time.Duration
	ViewportCooldownOnTimeout time.Duration
	RetentionHiddenFull      Retention
	RetentionHiddenViewport  Retention
	RetentionTTL             time.Duration // used when Retention == RetentionDropAfterTTL
	ParseWhenHidden          bool
	SyncBootstrapTimeout     time.Duration // zero means "not configured"
	Injections               Injections
	Viewport                 ViewportWindow
	StageB                   StageBPolicy
	VisibleSpanCap           int
}

// Policy bundles the three tiers plus the global permit capacity, per
// spec §4.6/§4.7.
type Policy struct {
	S, M, L       TierPolicy
	MaxConcurrency int
}

// TierFor selects S/M/L by byte count, per spec's
// "s_max_bytes_inclusive < m_max_bytes_inclusive" ordering.
func (p Policy) TierFor(byteLen int) (Tier, TierPolicy) {
	if byteLen <= p.S.MaxBytesInclusive {
		return TierS, p.S
	}
	if byteLen <= p.M.MaxBytesInclusive {
		return TierM, p.M
	}
	return TierL, p.L
}

// Hotness is a document's visibility classification for retention (spec
// §4.6).
type Hotness int

const (
	HotnessVisible Hotness = iota
	HotnessWarm
	HotnessCold
)

// Outcome is ensure_syntax's per-frame result (spec §4.6).
type Outcome int

const (
	OutcomeReady Outcome = iota
	OutcomeKicked
	OutcomePending
	OutcomeThrottled
	OutcomeCooldown
	OutcomeDisabled
	OutcomeNoLanguage
)

// EnsureResult is the full ensure_syntax return value.
type EnsureResult struct {
	Result  Outcome
	Updated bool
}

// ViewportKey identifies a requested viewport window for cache/resident
// lookups.
type ViewportKey struct {
	Start int
	End   int
}

// installedTree is the slot's currently-installed full/incremental parse
// result.
type installedTree struct {
	syntax     ports.SyntaxTree
	docVersion uint64
	treeID     uint64
}

// viewportResidency is one cached viewport result.
type viewportResidency struct {
	stageA ports.SyntaxTree
	stageB ports.SyntaxTree
	docVersion uint64
}

// pendingIncremental is a queued bounded incremental edit awaiting
// background catch-up, per spec §4.6's hot-path note.
type pendingIncremental struct {
	baseTreeDocVersion uint64
	oldRope            string
	changeset          ports.ChangeSet
}

// slot is the per-document syntax state (spec §3 "Syntax slot").
type slot struct {
	docID      ids.DocId
	languageID string

	full               *installedTree
	viewportCache      map[ViewportKey]*viewportResidency
	pendingIncremental *pendingIncremental
	dirty              bool
	versionCounter     uint64
	lastOptsKey        string
	lastTier           Tier

	loader ports.LanguageLoader
}

// schedulingState is the per-document scheduling bookkeeping (spec §3
// "Scheduling state").
type schedulingState struct {
	epoch uint32

	activeFull            ids.TaskId
	hasActiveFull         bool
	activeViewportUrgent  ids.TaskId
	activeViewportUrgentKey ViewportKey
	hasActiveViewportUrgent bool
	activeViewportEnrich  ids.TaskId
	activeViewportEnrichKey ViewportKey
	hasActiveViewportEnrich bool

	completedQueue []CompletedTask

	lastEditAt         time.Time
	lastVisibleAt      time.Time
	cooldownFullUntil  time.Time
	cooldownViewportUntil time.Time

	syncBootstrapAttempted bool
	forceNoDebounce        bool

	stageAStablePolls int
	stageABudgetUsed  int
}

// CompletedTask is one finished parse task awaiting collection (spec §4.7
// drain_finished).
type CompletedTask struct {
	TaskID     ids.TaskId
	DocID      ids.DocId
	Epoch      uint32
	Kind       TaskKind
	ViewportKey ViewportKey // meaningful only for viewport kinds
	DocVersion uint64
	Tree       ports.SyntaxTree
	Err        *ports.SyntaxError
}

// TaskKind distinguishes the four parse task shapes the collector spawns.
type TaskKind int

const (
	TaskFull TaskKind = iota
	TaskIncremental
	TaskViewportStageA
	TaskViewportStageB
)
