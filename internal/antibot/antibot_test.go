package antibot

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/finova-net/finova-sub005/pkg/models"
)

type fakeSignals struct {
	biometric  float64
	timestamps []time.Time
	shape      ReferralShape
	devices    DeviceCounts
	content    ContentInfo
}

func (f fakeSignals) BiometricSimilarity(ctx context.Context, userID models.UserId) (float64, error) {
	return f.biometric, nil
}
func (f fakeSignals) RecentEventTimestamps(ctx context.Context, userID models.UserId) ([]time.Time, error) {
	return f.timestamps, nil
}
func (f fakeSignals) ReferralGraphShape(ctx context.Context, userID models.UserId) (ReferralShape, error) {
	return f.shape, nil
}
func (f fakeSignals) DeviceFingerprintCount(ctx context.Context, userID models.UserId) (DeviceCounts, error) {
	return f.devices, nil
}
func (f fakeSignals) ContentFingerprint(ctx context.Context, contentRef string) (ContentInfo, error) {
	return f.content, nil
}

func humanTimestamps() []time.Time {
	base := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	out := make([]time.Time, 0, 10)
	for i := 0; i < 10; i++ {
		out = append(out, base.Add(-time.Duration(i)*time.Duration(37+3*(i%3))*time.Second))
	}
	return out
}

func TestScoreClampsWithinBounds(t *testing.T) {
	s := NewScorer(fakeSignals{
		biometric:  0.9,
		timestamps: humanTimestamps(),
		devices:    DeviceCounts{UserAgentPlausible: true, GeoConsistent: true},
	})
	res, err := s.Score(context.Background(), "u1", "")
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.HumanProbability, MinHumanProbability)
	require.LessOrEqual(t, res.HumanProbability, MaxHumanProbability)
}

func TestScoreFlagsUniformClickIntervalsAsCritical(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	uniform := make([]time.Time, 0, 10)
	for i := 0; i < 10; i++ {
		uniform = append(uniform, base.Add(time.Duration(i)*500*time.Millisecond))
	}
	s := NewScorer(fakeSignals{biometric: 0.9, timestamps: uniform, devices: DeviceCounts{UserAgentPlausible: true, GeoConsistent: true}})
	res, err := s.Score(context.Background(), "u1", "")
	require.NoError(t, err)
	require.True(t, HasCritical(res.Findings))
	require.Less(t, res.HumanProbability, 0.5)
}

func TestScoreFlagsCircularReferralAsCritical(t *testing.T) {
	s := NewScorer(fakeSignals{
		biometric:  0.9,
		timestamps: humanTimestamps(),
		shape:      ReferralShape{CircularEdgesObserved: 1},
		devices:    DeviceCounts{UserAgentPlausible: true, GeoConsistent: true},
	})
	res, err := s.Score(context.Background(), "u1", "")
	require.NoError(t, err)
	require.True(t, HasCritical(res.Findings))
}

func TestSweepFlagsOversizedGroups(t *testing.T) {
	keys := make([]UserNetworkKey, 0, 25)
	for i := 0; i < 25; i++ {
		keys = append(keys, UserNetworkKey{UserID: models.UserId(string(rune('a' + i))), IP: "1.2.3.4", DeviceHash: "shared"})
	}
	src := fakeGroupSource{keys: keys}
	result, err := Sweep(context.Background(), src, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, result.FlaggedByIP, 25)
	require.Len(t, result.FlaggedByDevice, 25)
}

type fakeGroupSource struct{ keys []UserNetworkKey }

func (f fakeGroupSource) AllUserNetworkKeys(ctx context.Context) ([]UserNetworkKey, error) {
	return f.keys, nil
}
