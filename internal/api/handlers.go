package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolift/internal/design"
	"github.com/sells-group/geolift/internal/model"
	"github.com/sells-group/geolift/internal/provider"
	"github.com/sells-group/geolift/internal/schema"
	"github.com/sells-group/geolift/internal/significance"
	"github.com/sells-group/geolift/internal/similarity"
	"github.com/sells-group/geolift/internal/store"
)

const maxBodyBytes = 1 << 20

var errBadRequest = eris.New("api: bad request")

type errorBody struct {
	Error string `json:"error"`
}

// assessRequest pairs two sides, each given by region id or by raw
// population. A population takes precedence over an id on the same side.
type assessRequest struct {
	TargetID            string              `json:"target_id" validate:"required_without=TargetPopulation"`
	CandidateID         string              `json:"candidate_id" validate:"required_without=CandidatePopulation"`
	RegionType          model.RegionType    `json:"region_type"`
	TargetPopulation    *int64              `json:"target_population" validate:"omitempty,gte=0"`
	CandidatePopulation *int64              `json:"candidate_population" validate:"omitempty,gte=0"`
	Params              significance.Params `json:"params"`
}

type sampleSizeRequest struct {
	BaselineRate float64 `json:"baseline_rate" validate:"gte=0,lt=1"`
	ExpectedLift float64 `json:"expected_lift" validate:"gte=0"`
	Alpha        float64 `json:"alpha" validate:"gte=0,lt=1"`
	Beta         float64 `json:"beta" validate:"gte=0,lt=1"`
}

type sampleSizeResponse struct {
	MinimumSampleSize int                 `json:"minimum_sample_size"`
	Params            significance.Params `json:"params"`
}

type schemaResponse struct {
	Name      string            `json:"name"`
	Variables []schema.Variable `json:"variables"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getSchema(w http.ResponseWriter, r *http.Request) {
	t := model.RegionTypeZIP
	if q := r.URL.Query().Get("type"); q != "" {
		t = model.RegionType(q)
	}
	if !t.Valid() {
		s.writeError(w, r, eris.Wrapf(errBadRequest, "unknown region type %q", t))
		return
	}
	sc := s.planner.Engine(t).Schema()
	writeJSON(w, http.StatusOK, schemaResponse{Name: sc.Name(), Variables: sc.Variables()})
}

func (s *Server) getRegion(w http.ResponseWriter, r *http.Request) {
	t := model.RegionType(chi.URLParam(r, "type"))
	if !t.Valid() {
		s.writeError(w, r, eris.Wrapf(errBadRequest, "unknown region type %q", t))
		return
	}
	region, err := s.regions.FetchRegion(r.Context(), chi.URLParam(r, "id"), t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, region)
}

func (s *Server) postMatches(w http.ResponseWriter, r *http.Request) {
	var req design.Request
	if !s.decode(w, r, &req) {
		return
	}

	plan, err := s.planner.Plan(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.metrics.MatchCandidates.Observe(float64(plan.PoolSize))
	s.metrics.MatchResults.Observe(float64(len(plan.Results)))
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) postAssess(w http.ResponseWriter, r *http.Request) {
	var req assessRequest
	if !s.decode(w, r, &req) {
		return
	}

	regionType := req.RegionType
	if regionType == "" {
		regionType = model.RegionTypeZIP
	}

	targetPop, err := s.population(r, req.TargetPopulation, req.TargetID, regionType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	candidatePop, err := s.population(r, req.CandidatePopulation, req.CandidateID, regionType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	a, err := significance.AssessPopulations(targetPop, candidatePop, s.planner.Params(req.Params))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) population(r *http.Request, pop *int64, id string, t model.RegionType) (int64, error) {
	if pop != nil {
		return *pop, nil
	}
	if !t.Valid() {
		return 0, eris.Wrapf(errBadRequest, "unknown region type %q", t)
	}
	region, err := s.regions.FetchRegion(r.Context(), id, t)
	if err != nil {
		return 0, err
	}
	return significance.Population(region), nil
}

func (s *Server) postSampleSize(w http.ResponseWriter, r *http.Request) {
	var req sampleSizeRequest
	if !s.decode(w, r, &req) {
		return
	}

	p := s.planner.Params(significance.Params{
		ExpectedLift: req.ExpectedLift,
		Alpha:        req.Alpha,
		Beta:         req.Beta,
		BaselineRate: req.BaselineRate,
	})
	n, err := significance.MinimumSampleSize(p.BaselineRate, p.ExpectedLift, p.Alpha, p.Beta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sampleSizeResponse{MinimumSampleSize: n, Params: p})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		TargetID:   q.Get("target"),
		RegionType: model.RegionType(q.Get("type")),
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, eris.Wrapf(errBadRequest, "%s must be a non-negative integer", key))
			return
		}
		*dst = n
	}

	runs, err := s.runs.ListMatchRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.MatchRunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetMatchRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// decode reads a JSON body into dst and validates it. It writes the error
// response and returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		s.writeError(w, r, eris.Wrap(errBadRequest, "invalid request body"))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, r, err)
		return false
	}
	return true
}

func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	case eris.Is(err, errBadRequest),
		eris.Is(err, design.ErrInvalidRequest),
		eris.Is(err, similarity.ErrInvalidMetric),
		eris.Is(err, significance.ErrInvalidParameters),
		eris.Is(err, schema.ErrUnknownCategory),
		eris.Is(err, schema.ErrUnknownVariable),
		eris.Is(err, schema.ErrValueKind):
		return http.StatusBadRequest
	case eris.Is(err, provider.ErrNotFound), eris.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
