// Package antibot implements the Anti-Bot Scorer (spec.md §4.5): a
// weighted aggregation of six behavioral/biometric/network/device/
// temporal/content signals into a human-probability score in [0.1, 1.0],
// plus a list of SuspiciousFindings. Grounded on the teacher's
// privacy_score.go weighted-factor composition and behavioral_analysis.go
// timestamp-variance pattern, generalized from Bitcoin-transaction
// heuristics to social-activity heuristics.
package antibot

import (
	"context"
	"math"
	"time"

	"github.com/finova-net/finova-sub005/pkg/models"
)

const (
	MinHumanProbability = 0.1
	MaxHumanProbability = 1.0

	// SuspensionScoreFloor is the session-start threshold below which the
	// session is suspended immediately, absent any Critical finding.
	SuspensionScoreFloor = 0.3

	weightBiometric  = 0.25
	weightBehavioral = 0.20
	weightSocial     = 0.15
	weightDevice     = 0.15
	weightTemporal   = 0.15
	weightContent    = 0.10
)

// FindingKind enumerates the suspicious-activity categories of spec.md §4.5.
type FindingKind string

const (
	FindingClickSpeed     FindingKind = "ClickSpeed"
	FindingSessionPattern FindingKind = "SessionPattern"
	FindingNetworkAbuse   FindingKind = "NetworkAbuse"
	FindingContentSpam    FindingKind = "ContentSpam"
	FindingDeviceFarm     FindingKind = "DeviceFarm"
)

// Severity enumerates finding severities; Critical forces suspension.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// SuspiciousFinding is one anti-bot signal surfaced alongside the score.
type SuspiciousFinding struct {
	Kind       FindingKind
	Severity   Severity
	Confidence float64 // [0,1]
}

// HasCritical reports whether any finding in the slice is Critical.
func HasCritical(findings []SuspiciousFinding) bool {
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// HasMedium reports whether any finding in the slice is at least Medium,
// which triggers the §4.11 penalty multiplier.
func HasMedium(findings []SuspiciousFinding) bool {
	for _, f := range findings {
		if f.Severity == SeverityMedium || f.Severity == SeverityHigh || f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Signals is the raw evidence the scorer reads, exposed by the
// AntiBotSignals adapter (spec.md §6): event history, biometric hashes,
// device/IP counters, referral graph shape.
type Signals interface {
	// BiometricSimilarity returns the rolling similarity of the user's
	// recent biometric hashes to their historical baseline, in [0,1].
	BiometricSimilarity(ctx context.Context, userID models.UserId) (float64, error)
	// RecentEventTimestamps returns the user's recent activity timestamps
	// (most recent first), used for click-interval variance and circadian
	// analysis.
	RecentEventTimestamps(ctx context.Context, userID models.UserId) ([]time.Time, error)
	// ReferralGraphShape returns counts describing the user's immediate
	// referral neighborhood for social-graph authenticity scoring.
	ReferralGraphShape(ctx context.Context, userID models.UserId) (ReferralShape, error)
	// DeviceFingerprintCount returns how many distinct users share this
	// user's current device hash, and how many share their IP.
	DeviceFingerprintCount(ctx context.Context, userID models.UserId) (DeviceCounts, error)
	// ContentFingerprint returns a dedup hash and length for the content
	// referenced by the current event, for spam/uniqueness checks.
	ContentFingerprint(ctx context.Context, contentRef string) (ContentInfo, error)
}

// ReferralShape summarizes a user's referral neighborhood.
type ReferralShape struct {
	DirectReferrerCount  int // normally 0 or 1; >1 indicates manipulation upstream
	DirectRefereeCount   int
	DistinctRefereeOrigin int // distinct referrer IPs/devices among referees
	CircularEdgesObserved int // referee who is also an ancestor; should be 0 post-insert
}

// DeviceCounts reports how many accounts share the acting user's device
// hash and IP, for the network-wide sweep thresholds (IP>20, device>5).
type DeviceCounts struct {
	SharedDeviceUsers int
	SharedIPUsers     int
	UserAgentPlausible bool
	GeoConsistent      bool
}

// ContentInfo describes the content referenced by an activity event.
type ContentInfo struct {
	DuplicateOfRecent bool
	MatchesSpamPattern bool
	Length             int
}

// Scorer computes the human-probability score and findings for an event.
type Scorer struct {
	signals Signals
}

// NewScorer builds a Scorer over the given Signals adapter.
func NewScorer(signals Signals) *Scorer {
	return &Scorer{signals: signals}
}

// Result is the outcome of scoring one event.
type Result struct {
	HumanProbability float64
	Findings         []SuspiciousFinding
}

// Score computes the weighted human-probability and findings for a user's
// event, per spec.md §4.5's factor table.
func (s *Scorer) Score(ctx context.Context, userID models.UserId, contentRef string) (Result, error) {
	var findings []SuspiciousFinding

	biometric, err := s.signals.BiometricSimilarity(ctx, userID)
	if err != nil {
		biometric = 0.5 // degrade toward neutral rather than fail the event
	}

	timestamps, err := s.signals.RecentEventTimestamps(ctx, userID)
	if err != nil {
		timestamps = nil
	}
	behavioral, behavioralFindings := scoreBehavioral(timestamps)
	findings = append(findings, behavioralFindings...)

	shape, err := s.signals.ReferralGraphShape(ctx, userID)
	if err != nil {
		shape = ReferralShape{}
	}
	social, socialFindings := scoreSocialGraph(shape)
	findings = append(findings, socialFindings...)

	devices, err := s.signals.DeviceFingerprintCount(ctx, userID)
	if err != nil {
		devices = DeviceCounts{UserAgentPlausible: true, GeoConsistent: true}
	}
	device, deviceFindings := scoreDevice(devices)
	findings = append(findings, deviceFindings...)

	temporal, temporalFindings := scoreTemporal(timestamps)
	findings = append(findings, temporalFindings...)

	content, contentFindings := scoreContent(ctx, s.signals, contentRef)
	findings = append(findings, contentFindings...)

	weighted := biometric*weightBiometric +
		behavioral*weightBehavioral +
		social*weightSocial +
		device*weightDevice +
		temporal*weightTemporal +
		content*weightContent

	clamped := clamp(weighted, MinHumanProbability, MaxHumanProbability)
	return Result{HumanProbability: clamped, Findings: findings}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// scoreBehavioral measures click-interval variance: very regular
// (bot-like) or implausibly fast intervals lower the score.
func scoreBehavioral(timestamps []time.Time) (float64, []SuspiciousFinding) {
	if len(timestamps) < 3 {
		return 0.8, nil // insufficient history, mildly favorable default
	}
	intervals := make([]float64, 0, len(timestamps)-1)
	for i := 0; i < len(timestamps)-1; i++ {
		d := timestamps[i].Sub(timestamps[i+1]).Seconds()
		if d < 0 {
			d = -d
		}
		intervals = append(intervals, d)
	}
	mean := meanOf(intervals)
	variance := varianceOf(intervals, mean)
	stddev := math.Sqrt(variance)

	var findings []SuspiciousFinding
	score := 0.9
	if mean > 0 && stddev/mean < 0.05 {
		// suspiciously uniform interval spacing
		score = 0.3
		findings = append(findings, SuspiciousFinding{Kind: FindingClickSpeed, Severity: SeverityHigh, Confidence: 0.8})
	}
	if mean < 1.0 {
		score = math.Min(score, 0.2)
		findings = append(findings, SuspiciousFinding{Kind: FindingClickSpeed, Severity: SeverityCritical, Confidence: 0.95})
	}
	return score, findings
}

// scoreSocialGraph penalizes referral neighborhoods that look like
// manufactured clusters: uniform origin, or circular structure.
func scoreSocialGraph(shape ReferralShape) (float64, []SuspiciousFinding) {
	score := 1.0
	var findings []SuspiciousFinding
	if shape.CircularEdgesObserved > 0 {
		score = 0.1
		findings = append(findings, SuspiciousFinding{Kind: FindingNetworkAbuse, Severity: SeverityCritical, Confidence: 0.99})
	}
	if shape.DirectRefereeCount > 10 && shape.DistinctRefereeOrigin <= 1 {
		score = math.Min(score, 0.4)
		findings = append(findings, SuspiciousFinding{Kind: FindingNetworkAbuse, Severity: SeverityMedium, Confidence: 0.6})
	}
	return score, findings
}

// scoreDevice penalizes device/IP fan-out above the network-sweep
// thresholds (device>5, IP>20) and implausible UA/geo signals.
func scoreDevice(d DeviceCounts) (float64, []SuspiciousFinding) {
	score := 1.0
	var findings []SuspiciousFinding
	if d.SharedDeviceUsers > DeviceFarmDeviceThreshold {
		score = math.Min(score, 0.2)
		findings = append(findings, SuspiciousFinding{Kind: FindingDeviceFarm, Severity: SeverityHigh, Confidence: 0.85})
	}
	if d.SharedIPUsers > DeviceFarmIPThreshold {
		score = math.Min(score, 0.3)
		findings = append(findings, SuspiciousFinding{Kind: FindingDeviceFarm, Severity: SeverityMedium, Confidence: 0.7})
	}
	if !d.UserAgentPlausible {
		score = math.Min(score, 0.5)
	}
	if !d.GeoConsistent {
		score = math.Min(score, 0.6)
	}
	return score, findings
}

// scoreTemporal penalizes 24/7-even activity that lacks a human circadian
// rhythm: hour-of-day histogram close to uniform across a full day.
func scoreTemporal(timestamps []time.Time) (float64, []SuspiciousFinding) {
	if len(timestamps) < 6 {
		return 0.8, nil
	}
	var hist [24]int
	for _, t := range timestamps {
		hist[t.UTC().Hour()]++
	}
	active := 0
	for _, c := range hist {
		if c > 0 {
			active++
		}
	}
	if active >= 20 {
		return 0.2, []SuspiciousFinding{{Kind: FindingSessionPattern, Severity: SeverityMedium, Confidence: 0.65}}
	}
	return 0.9, nil
}

func scoreContent(ctx context.Context, signals Signals, contentRef string) (float64, []SuspiciousFinding) {
	if contentRef == "" {
		return 0.9, nil
	}
	info, err := signals.ContentFingerprint(ctx, contentRef)
	if err != nil {
		return 0.8, nil
	}
	score := 1.0
	var findings []SuspiciousFinding
	if info.DuplicateOfRecent {
		score = math.Min(score, 0.4)
		findings = append(findings, SuspiciousFinding{Kind: FindingContentSpam, Severity: SeverityMedium, Confidence: 0.6})
	}
	if info.MatchesSpamPattern {
		score = math.Min(score, 0.2)
		findings = append(findings, SuspiciousFinding{Kind: FindingContentSpam, Severity: SeverityHigh, Confidence: 0.8})
	}
	if info.Length > 0 && info.Length < 3 {
		score = math.Min(score, 0.6)
	}
	return score, findings
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func varianceOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}
