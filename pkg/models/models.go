// Package models holds the flat, normalized entities of the Integrated
// Reward Engine: users, mining sessions, referral edges, card effects,
// activity events and the outcomes emitted for them.
package models

import "time"

// UserId is an opaque globally unique identifier for a platform user.
type UserId string

// RPTier is the referral-point tier of a user (spec.md §4.8).
type RPTier string

const (
	TierExplorer   RPTier = "Explorer"
	TierConnector  RPTier = "Connector"
	TierInfluencer RPTier = "Influencer"
	TierLeader     RPTier = "Leader"
	TierAmbassador RPTier = "Ambassador"
)

// TierIndex returns the 0-based ordinal used by the network-quality-bonus
// and RP-regression formulas (spec.md §4.6, §4.9).
func (t RPTier) TierIndex() int {
	switch t {
	case TierExplorer:
		return 0
	case TierConnector:
		return 1
	case TierInfluencer:
		return 2
	case TierLeader:
		return 3
	case TierAmbassador:
		return 4
	default:
		return 0
	}
}

// Platform identifies the social platform an activity originated on.
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube    Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformX         Platform = "x"
	PlatformFacebook  Platform = "facebook"
	PlatformOther     Platform = "other"
)

// ActivityKind enumerates the kinds of user activity the engine rewards.
type ActivityKind string

const (
	KindPost          ActivityKind = "post"
	KindPhoto         ActivityKind = "photo"
	KindComment       ActivityKind = "comment"
	KindLike          ActivityKind = "like"
	KindShare         ActivityKind = "share"
	KindStory         ActivityKind = "story"
	KindVideo         ActivityKind = "video"
	KindFollow        ActivityKind = "follow"
	KindLogin         ActivityKind = "login"
	KindQuestComplete ActivityKind = "quest_complete"
	KindViralMilestone ActivityKind = "viral_milestone"
)

// SessionStatus is the state of a MiningSession (spec.md §4.10).
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionSuspended SessionStatus = "suspended"
	SessionClosed    SessionStatus = "closed"
)

// User is the durable per-user record (spec.md §3). All fields except
// id/created_at are mutated only by the orchestrator.
type User struct {
	ID                 UserId
	Version            uint64 // optimistic-concurrency token, see internal/store
	KYCVerified        bool
	CreatedAt          time.Time
	Holdings           int64 // FixedAmount, micro-units
	Staked             int64 // FixedAmount, micro-units
	XPTotal            uint64
	XPLevel            uint16
	RPTotal            uint64
	RPTier             RPTier
	StreakDays         uint32
	LastActivityAt     time.Time
	LastActivityDay    string // YYYY-MM-DD (UTC), for streak idempotency
	HumanScore         float64
	QualityScoreRecent float64
	Banned             bool
	SuspensionReason   string
}

// MiningSession tracks continuous $FIN accrual for one user (spec.md §3/§4.10).
type MiningSession struct {
	UserID            UserId
	SessionID         string
	StartedAt         time.Time
	LastAccrualAt     time.Time
	CurrentRatePerHour int64 // FixedAmount
	AccruedUnclaimed  int64 // FixedAmount
	HumanScoreAtStart float64
	Status            SessionStatus
	CloseReason       string
	CooldownUntil     time.Time
	SuspendedAt       time.Time
}

// ReferralEdge is a directed referrer -> referee relation (spec.md §3).
type ReferralEdge struct {
	ReferrerID    UserId
	RefereeID     UserId
	CreatedAt     time.Time
	RefereeActive bool
}

// ReferralNetworkSnapshot is the derived, cacheable view of a user's subtree
// (spec.md §3/§4.9).
type ReferralNetworkSnapshot struct {
	UserID          UserId
	L1Count         int
	L1Active        int
	L2Count         int
	L2Active        int
	L3Count         int
	L3Active        int
	QualityScore    float64
	Tier            RPTier
	LastRefreshedAt time.Time
}

// CardCategory enumerates special-card effect categories (spec.md §3).
type CardCategory string

const (
	CategoryMiningBoost   CardCategory = "MiningBoost"
	CategoryXPAccelerator CardCategory = "XPAccelerator"
	CategoryReferralPower CardCategory = "ReferralPower"
	CategoryProfileBadge  CardCategory = "ProfileBadge"
)

// NFTCardEffect is an active special-card effect for a user (spec.md §3/§4.13).
type NFTCardEffect struct {
	UserID         UserId
	CardID         string
	InstanceID     string
	Category       CardCategory
	Multiplier     float64
	DurationHours  uint32 // 0 = permanent
	Stackable      bool
	MaxStack       uint8
	ActivatedAt    time.Time
	ExpiresAt      *time.Time
	SingleUse      bool
	CooldownUntil  *time.Time
}

// ActivityEvent is a transient inbound event (spec.md §3).
type ActivityEvent struct {
	UserID         UserId
	ClientEventID  string // idempotency key half; see spec.md §6
	Platform       Platform
	Kind           ActivityKind
	ContentRef     string
	ObservedAt     time.Time
	ClientSignature string
}

// FactorBreakdown records every multiplier/term used to compute a reward,
// required for audit and tests (spec.md §3).
type FactorBreakdown map[string]float64

// IntentKind enumerates the kinds of side-effect intents the engine emits.
type IntentKind string

const (
	IntentMint         IntentKind = "mint"
	IntentCardBurn     IntentKind = "card_burn"
	IntentNotification IntentKind = "notification"
)

// Intent is a side-effect description for an external adapter to execute
// with at-least-once delivery, keyed for idempotency (spec.md §6/GLOSSARY).
type Intent struct {
	Kind         IntentKind
	UserID       UserId
	Amount       int64 // FixedAmount, for IntentMint
	CardID       string
	Message      string
	Provenance   string
	IdempotencyKey string // (user_id, seq)
	Seq          uint64
}

// RewardOutcome is the result of processing one ActivityEvent (spec.md §3).
type RewardOutcome struct {
	UserID          UserId
	EventRef        string
	XPGained        uint64
	RPCreditDelta   int64
	FinAccrued      int64 // FixedAmount
	Factors         FactorBreakdown
	Intents         []Intent
	Degraded        bool
	LevelUp         bool
	TierChange      bool
	NewLevel        uint16
	NewTier         RPTier
	DailyCapReached bool
}

// EventLogRecord is the bit-exact append-only log record of spec.md §6.
type EventLogRecord struct {
	Seq        uint64
	TS         uint64 // ms since epoch
	Kind       string
	FinDelta   int64
	XPDelta    int64
	RPDelta    int64
	Factors    map[string]float64
	Provenance string
}
