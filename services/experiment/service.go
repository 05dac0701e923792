package experiment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"affiliate-controlplane/pkg/config"
	"affiliate-controlplane/pkg/db/option"
	"affiliate-controlplane/pkg/errutil"
	"affiliate-controlplane/pkg/hashing"
	"affiliate-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	store  AssignmentStore
	secret []byte

	experiment repository.Repository[Experiment]
	variant    repository.Repository[Variant]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Store  AssignmentStore `optional:"true"`
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		store:  p.Store,
		secret: []byte(p.Config.SecretHMAC),

		experiment: repository.ProvideStore[Experiment](p.DB),
		variant:    repository.ProvideStore[Variant](p.DB),
	}
}

type CreateExperimentRequest struct {
	Name             string    `json:"name"`
	TargetPercentage int       `json:"target_percentage"`
	Variants         []Variant `json:"variants"`
}

func (s *Service) Create(ctx context.Context, req CreateExperimentRequest) (*Experiment, error) {
	if req.Name == "" {
		return nil, errutil.ValidationFailed("name is required")
	}
	if req.TargetPercentage < 0 || req.TargetPercentage > 100 {
		return nil, errutil.ValidationFailed("target_percentage must be within [0,100]")
	}

	e := &Experiment{
		ID:               s.node.Generate().String(),
		Name:             req.Name,
		Status:           ExperimentStatusDraft,
		TargetPercentage: req.TargetPercentage,
		Variants:         req.Variants,
	}

	if err := e.ValidateWeights(); err != nil {
		return nil, err
	}

	for i := range e.Variants {
		e.Variants[i].ID = s.node.Generate().String()
		e.Variants[i].ExperimentID = e.ID
		e.Variants[i].Position = i
	}

	if err := s.experiment.Create(ctx, e); err != nil {
		zap.L().Error("failed to create experiment", zap.Error(err))
		return nil, err
	}

	return e, nil
}

func (s *Service) UpdateStatus(ctx context.Context, experimentID string, status ExperimentStatus) error {
	switch status {
	case ExperimentStatusDraft, ExperimentStatusActive, ExperimentStatusCompleted:
	default:
		return errutil.ValidationFailed("invalid experiment status")
	}

	exist, err := s.experiment.FindOne(ctx, &Experiment{ID: experimentID})
	if err != nil {
		return err
	}
	if exist == nil {
		return errutil.NotFound("experiment not found")
	}

	return s.experiment.Update(ctx, experimentID, map[string]any{"status": status})
}

func (s *Service) ListActive(ctx context.Context) ([]*Experiment, error) {
	experiments, err := s.experiment.Find(ctx, &Experiment{Status: ExperimentStatusActive})
	if err != nil {
		return nil, err
	}

	for _, e := range experiments {
		variants, err := s.variant.Find(ctx, &Variant{ExperimentID: e.ID},
			option.WithSortBy(option.QuerySortBy{SortBy: "position", Allow: map[string]bool{"position": true}}),
		)
		if err != nil {
			return nil, err
		}
		e.Variants = make([]Variant, 0, len(variants))
		for _, v := range variants {
			e.Variants = append(e.Variants, *v)
		}
	}

	return experiments, nil
}

// InExperiment decides admission with a hash space independent from variant
// assignment, so being admitted says nothing about which variant follows.
func InExperiment(userID string, e *Experiment) bool {
	return hashing.Bucket(userID, e.ID+":targeting") < e.TargetPercentage
}

// AssignVariant deterministically buckets the user across the experiment's
// weighted variants in declared order.
func AssignVariant(userID string, e *Experiment) (string, error) {
	options := make([]hashing.WeightedOption, 0, len(e.Variants))
	for _, v := range e.Variants {
		options = append(options, hashing.WeightedOption{Key: v.Key, Weight: v.Weight})
	}
	return hashing.Assign(userID, e.ID, options)
}

type Assignments struct {
	UserID      string            `json:"user_id"`
	Assignments map[string]string `json:"assignments"`
	Token       string            `json:"token"`
}

// GetAssignments resolves the user's variant for every active experiment,
// reusing stored assignments and persisting new ones, and returns a signed
// token so stateless clients can carry the map.
func (s *Service) GetAssignments(ctx context.Context, userID string) (*Assignments, error) {
	if userID == "" {
		return nil, errutil.BadRequest("user_id is required")
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	stored := map[string]string{}
	if s.store != nil {
		if m, err := s.store.Get(ctx, userID); err != nil {
			zap.L().Warn("failed to load stored assignments", zap.String("user_id", userID), zap.Error(err))
		} else {
			stored = m
		}
	}

	result := make(map[string]string, len(active))
	for _, e := range active {
		if v, ok := stored[e.ID]; ok {
			result[e.ID] = v
			continue
		}

		if !InExperiment(userID, e) {
			continue
		}

		variant, err := AssignVariant(userID, e)
		if err != nil {
			zap.L().Warn("failed to assign variant",
				zap.String("user_id", userID),
				zap.String("experiment_id", e.ID),
				zap.Error(err),
			)
			continue
		}

		result[e.ID] = variant

		if s.store != nil {
			if err := s.store.Set(ctx, userID, e.ID, variant); err != nil {
				zap.L().Warn("failed to persist assignment", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}

	token, err := s.signAssignments(userID, result)
	if err != nil {
		return nil, err
	}

	return &Assignments{
		UserID:      userID,
		Assignments: result,
		Token:       token,
	}, nil
}

type tokenPayload struct {
	UserID      string            `json:"user_id"`
	Assignments map[string]string `json:"assignments"`
}

func (s *Service) signAssignments(userID string, assignments map[string]string) (string, error) {
	// json.Marshal sorts map keys, so equal maps always produce equal tokens
	raw, err := json.Marshal(tokenPayload{UserID: userID, Assignments: assignments})
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(raw)

	return base64.RawURLEncoding.EncodeToString(raw) + "." + hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyToken checks a token's signature and returns its payload.
func (s *Service) VerifyToken(token string) (*Assignments, error) {
	parts := splitToken(token)
	if parts == nil {
		return nil, errutil.BadRequest("malformed assignment token")
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errutil.BadRequest("malformed assignment token")
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(parts[1])) {
		return nil, errutil.BadRequest("invalid assignment token signature")
	}

	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errutil.BadRequest("malformed assignment token")
	}

	return &Assignments{
		UserID:      payload.UserID,
		Assignments: payload.Assignments,
		Token:       token,
	}, nil
}

func splitToken(token string) []string {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			return []string{token[:i], token[i+1:]}
		}
	}
	return nil
}
