package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/youmna-rabie/aegis/internal/types"
)

var ErrDisasterNotFound = errors.New("disaster not found")

// Swarm is an in-process Client that answers from a fixed set of disaster
// zones and a scripted persona debate. Useful for demos and tests.
type Swarm struct {
	Logger    *slog.Logger
	Disasters []types.Disaster
	// Debate holds one line per persona in speaking order; Agent is the
	// persona name and the last line is the verdict.
	Debate []types.ScriptStep
}

// Evaluate declines requests outside the disaster radius and otherwise
// returns the debate transcript.
func (s *Swarm) Evaluate(ctx context.Context, req types.AidRequest) (types.EvaluationResult, error) {
	if err := ctx.Err(); err != nil {
		return types.EvaluationResult{}, err
	}

	d, ok := s.find(req.DisasterID)
	if !ok {
		return types.EvaluationResult{}, fmt.Errorf("%w: %s", ErrDisasterNotFound, req.DisasterID)
	}

	dist := DistanceKM(types.UserLocation{Lat: req.Lat, Lng: req.Lng}, d)
	if dist > d.RadiusKM {
		s.logger().Info("aid request declined", "disaster_id", d.ID, "distance_km", round2(dist))
		return types.EvaluationResult{
			Status: types.EvaluationDeclined,
			Reason: fmt.Sprintf("User is %.0fkm away. Outside the %gkm emergency zone.", math.Round(dist), d.RadiusKM),
		}, nil
	}

	aidType := req.AidType
	if aidType == "" {
		aidType = deriveAidType(req.Description)
	}

	transcript := make([]string, 0, len(s.Debate))
	for _, line := range s.Debate {
		transcript = append(transcript, line.Agent+": "+line.Text)
	}

	rounded := round2(dist)
	res := types.EvaluationResult{
		Status:     types.EvaluationProcessed,
		DistanceKM: &rounded,
		Debate:     transcript,
	}
	if len(transcript) > 0 {
		res.FinalVerdict = transcript[len(transcript)-1]
	}

	s.logger().Info("aid request processed",
		"disaster_id", d.ID,
		"aid_type", aidType,
		"distance_km", rounded,
		"speakers", len(transcript),
	)
	return res, nil
}

// Nearby returns the closest disaster whose radius contains loc, with its
// distance filled in, or nil when the user is safe.
func (s *Swarm) Nearby(loc types.UserLocation) *types.Disaster {
	var closest *types.Disaster
	best := math.Inf(1)
	for _, d := range s.disasters() {
		dist := DistanceKM(loc, d)
		if dist <= d.RadiusKM && dist < best {
			d := d
			closest = &d
			best = dist
		}
	}
	if closest != nil {
		rounded := round2(best)
		closest.DistanceKM = &rounded
	}
	return closest
}

// Zones returns a copy of the configured disaster zones.
func (s *Swarm) Zones() []types.Disaster {
	return append([]types.Disaster(nil), s.disasters()...)
}

func (s *Swarm) find(id string) (types.Disaster, bool) {
	for _, d := range s.disasters() {
		if d.ID == id {
			return d, true
		}
	}
	return types.Disaster{}, false
}

func (s *Swarm) disasters() []types.Disaster {
	if s.Disasters == nil {
		return DefaultDisasters()
	}
	return s.Disasters
}

func (s *Swarm) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// deriveAidType uses the first sentence of the description, capped at 50
// characters.
func deriveAidType(description string) string {
	first, _, _ := strings.Cut(description, ".")
	if r := []rune(first); len(r) > 50 {
		first = string(r[:50])
	}
	return first
}
