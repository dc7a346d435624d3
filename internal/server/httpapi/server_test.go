package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/avdotin/fitplan/internal/api"
	"github.com/avdotin/fitplan/internal/errs"
	"github.com/avdotin/fitplan/internal/model"
	"github.com/avdotin/fitplan/internal/service"
)

var testKey = []byte("test-sign-key")

type fakeAuth struct {
	registerID  string
	registerErr error
	tokens      model.Tokens
	user        model.User
	loginErr    error
}

var _ service.AuthService = (*fakeAuth)(nil)

func (f *fakeAuth) Register(_ context.Context, _, _ string) (string, error) {
	return f.registerID, f.registerErr
}
func (f *fakeAuth) LoginWithIP(_ context.Context, _, _, _ string) (model.Tokens, model.User, error) {
	return f.tokens, f.user, f.loginErr
}

type fakePlanSvc struct {
	plan       *model.PlanRecord
	planErr    error
	profile    *model.Profile
	profileErr error
	updateOut  *model.Profile
	updateErr  error
	ackErr     error

	gotRecompute bool
	gotAckVer    int64
}

var _ service.PlanService = (*fakePlanSvc)(nil)

func (f *fakePlanSvc) GetPlan(_ context.Context, _ uuid.UUID, recompute bool) (*model.PlanRecord, error) {
	f.gotRecompute = recompute
	return f.plan, f.planErr
}
func (f *fakePlanSvc) GetProfile(_ context.Context, _ uuid.UUID) (*model.Profile, error) {
	return f.profile, f.profileErr
}
func (f *fakePlanSvc) UpdateProfile(_ context.Context, _ uuid.UUID, _ model.Profile) (*model.Profile, error) {
	return f.updateOut, f.updateErr
}
func (f *fakePlanSvc) Acknowledge(_ context.Context, _ uuid.UUID, version int64) error {
	f.gotAckVer = version
	return f.ackErr
}

func signedToken(t *testing.T, sub uuid.UUID) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub.String(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func newTestServer(auth service.AuthService, plans service.PlanService) *httptest.Server {
	s := New(auth, plans, testKey, zap.NewNop())
	return httptest.NewServer(s.Router())
}

func TestRegister_OK(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeAuth{registerID: "id-1"}, &fakePlanSvc{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/auth/register", "application/json",
		strings.NewReader(`{"username":"alice","password":"pw"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var out api.RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.UserID != "id-1" {
		t.Fatalf("body: %+v err=%v", out, err)
	}
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeAuth{}, &fakePlanSvc{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/auth/register", "application/json",
		strings.NewReader(`{"username":"","password":""}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestLogin_SentinelMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{errs.ErrUnauthorized, http.StatusUnauthorized},
		{errs.ErrRateLimited, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		srv := newTestServer(&fakeAuth{loginErr: tc.err}, &fakePlanSvc{})
		resp, err := http.Post(srv.URL+"/api/v1/auth/login", "application/json",
			strings.NewReader(`{"username":"a","password":"b"}`))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		if resp.StatusCode != tc.want {
			t.Fatalf("err=%v status=%d want=%d", tc.err, resp.StatusCode, tc.want)
		}
		resp.Body.Close()
		srv.Close()
	}
}

func TestGetPlan_RequiresAuth(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeAuth{}, &fakePlanSvc{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/plan")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestGetPlan_OK_AndRecomputeFlag(t *testing.T) {
	t.Parallel()
	userID := uuid.Must(uuid.NewV4())
	plans := &fakePlanSvc{plan: &model.PlanRecord{
		ID:         uuid.Must(uuid.NewV4()),
		UserID:     userID,
		Version:    2,
		ComputedAt: time.Date(2023, 10, 31, 16, 0, 0, 123_000_000, time.UTC),
		Targets:    model.TargetBundle{CalorieTarget: 2209},
	}}
	srv := newTestServer(&fakeAuth{}, plans)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/plan?recompute=true", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, userID))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if !plans.gotRecompute {
		t.Fatalf("recompute query flag not forwarded")
	}
	var out api.PlanResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ComputedAt != "2023-10-31T16:00:00.123Z" {
		t.Fatalf("computed_at=%q", out.ComputedAt)
	}
	if out.Version != 2 || out.Targets.CalorieTarget != 2209 {
		t.Fatalf("body mismatch: %+v", out)
	}
}

func TestGetPlan_NotFound(t *testing.T) {
	t.Parallel()
	userID := uuid.Must(uuid.NewV4())
	srv := newTestServer(&fakeAuth{}, &fakePlanSvc{planErr: errs.ErrNotFound})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/plan", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, userID))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestAck_OKAndStale(t *testing.T) {
	t.Parallel()
	userID := uuid.Must(uuid.NewV4())
	plans := &fakePlanSvc{}
	srv := newTestServer(&fakeAuth{}, plans)
	defer srv.Close()

	body := []byte(`{"version":3,"computed_at":"2023-10-31T16:00:00.123Z"}`)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/plan/ack", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signedToken(t, userID))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if plans.gotAckVer != 3 {
		t.Fatalf("version not forwarded: %d", plans.gotAckVer)
	}

	plans.ackErr = errs.ErrNotFound
	req2, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/plan/ack", bytes.NewReader(body))
	req2.Header.Set("Authorization", "Bearer "+signedToken(t, userID))
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("do(2): %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("stale ack status=%d", resp2.StatusCode)
	}
}

func TestPutProfile_ValidationAndConflict(t *testing.T) {
	t.Parallel()
	userID := uuid.Must(uuid.NewV4())
	plans := &fakePlanSvc{updateErr: errs.ErrVersionConflict}
	srv := newTestServer(&fakeAuth{}, plans)
	defer srv.Close()

	// invalid sex rejected before the service is involved
	bad := []byte(`{"age":30,"sex":"?","height_cm":180,"weight_kg":80}`)
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/profile", bytes.NewReader(bad))
	req.Header.Set("Authorization", "Bearer "+signedToken(t, userID))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	good := []byte(`{"age":30,"sex":"male","height_cm":180,"weight_kg":80,"goal_weight_kg":75,"weekly_rate_kg":-0.5,"activity_level":"moderate","base_ver":1}`)
	req2, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/profile", bytes.NewReader(good))
	req2.Header.Set("Authorization", "Bearer "+signedToken(t, userID))
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("do(2): %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("conflict status=%d", resp2.StatusCode)
	}
}

func TestAuth_BadToken(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeAuth{}, &fakePlanSvc{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/profile", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}
