package experiment

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"affiliate-controlplane/pkg/config"
	"affiliate-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeStore struct {
	data map[string]map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]map[string]string{}}
}

func (s *fakeStore) Get(ctx context.Context, userID string) (map[string]string, error) {
	if m, ok := s.data[userID]; ok {
		return m, nil
	}
	return map[string]string{}, nil
}

func (s *fakeStore) Set(ctx context.Context, userID, experimentID, variantKey string) error {
	if s.data[userID] == nil {
		s.data[userID] = map[string]string{}
	}
	s.data[userID][experimentID] = variantKey
	return nil
}

func newTestService(t *testing.T, store AssignmentStore) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Experiment{}, &Variant{})
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.SecretHMAC = "test-secret"

	return NewService(ServiceParams{DB: db, Node: node, Store: store, Config: cfg})
}

func TestValidateWeights(t *testing.T) {
	e := &Experiment{Variants: []Variant{{Key: "a", Weight: 60}, {Key: "b", Weight: 40}}}
	require.NoError(t, e.ValidateWeights())

	e = &Experiment{Variants: []Variant{{Key: "a", Weight: 60}, {Key: "b", Weight: 60}}}
	require.Error(t, e.ValidateWeights())

	e = &Experiment{}
	require.Error(t, e.ValidateWeights())

	e = &Experiment{Variants: []Variant{{Key: "a", Weight: -10}, {Key: "b", Weight: 110}}}
	require.Error(t, e.ValidateWeights())
}

func TestCreateRejectsBadWeights(t *testing.T) {
	svc := newTestService(t, newFakeStore())

	_, err := svc.Create(context.Background(), CreateExperimentRequest{
		Name:             "broken",
		TargetPercentage: 100,
		Variants:         []Variant{{Key: "a", Weight: 50}, {Key: "b", Weight: 30}},
	})
	require.Error(t, err)
}

func TestAssignVariantDeterministic(t *testing.T) {
	e := &Experiment{
		ID: "exp-1",
		Variants: []Variant{
			{Key: "control", Weight: 50},
			{Key: "treatment", Weight: 50},
		},
	}

	first, err := AssignVariant("user-42", e)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		got, err := AssignVariant("user-42", e)
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
}

func TestAdmissionIndependentOfAssignment(t *testing.T) {
	e := &Experiment{
		ID:               "exp-1",
		TargetPercentage: 50,
		Variants: []Variant{
			{Key: "control", Weight: 50},
			{Key: "treatment", Weight: 50},
		},
	}

	admitted := 0
	for i := 0; i < 10000; i++ {
		if InExperiment(fmt.Sprintf("user-%d", i), e) {
			admitted++
		}
	}
	share := float64(admitted) / 10000
	require.InDelta(t, 0.50, share, 0.05)

	full := &Experiment{ID: "exp-1", TargetPercentage: 100}
	require.True(t, InExperiment("anyone", full))

	none := &Experiment{ID: "exp-1", TargetPercentage: 0}
	require.False(t, InExperiment("anyone", none))
}

func TestGetAssignmentsReusesStored(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	e, err := svc.Create(ctx, CreateExperimentRequest{
		Name:             "checkout flow",
		TargetPercentage: 100,
		Variants:         []Variant{{Key: "control", Weight: 50}, {Key: "treatment", Weight: 50}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.UpdateStatus(ctx, e.ID, ExperimentStatusActive))

	// a stored assignment wins over a fresh roll, even an impossible one
	require.NoError(t, store.Set(ctx, "user-1", e.ID, "pinned"))

	got, err := svc.GetAssignments(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "pinned", got.Assignments[e.ID])

	// a fresh user gets a real variant, persisted for next time
	got2, err := svc.GetAssignments(ctx, "user-2")
	require.NoError(t, err)
	variant := got2.Assignments[e.ID]
	require.Contains(t, []string{"control", "treatment"}, variant)
	require.Equal(t, variant, store.data["user-2"][e.ID])
}

func TestTokenSignAndVerify(t *testing.T) {
	svc := newTestService(t, newFakeStore())

	token, err := svc.signAssignments("user-1", map[string]string{"exp-1": "control"})
	require.NoError(t, err)

	payload, err := svc.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", payload.UserID)
	require.Equal(t, "control", payload.Assignments["exp-1"])

	_, err = svc.VerifyToken(token + "tampered")
	require.Error(t, err)

	_, err = svc.VerifyToken("not-a-token")
	require.Error(t, err)
}
