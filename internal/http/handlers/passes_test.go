package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/outreachpass/passhub/internal/domain/attendee"
	"github.com/outreachpass/passhub/internal/domain/job"
	"github.com/outreachpass/passhub/internal/http/handlers"
)

// Make sure Gin does not spam the console during the test

func init() {
	gin.SetMode(gin.TestMode)
}

// Fake repository implementations of the handler interfaces

type fakeJobsRepo struct {
	createFn          func(ctx context.Context, req job.CreateRequest) (job.Job, error)
	createCompletedFn func(ctx context.Context, attendeeID, tenantID, cardID string) (job.Job, error)
	getFn             func(ctx context.Context, id string) (job.Job, error)
	getActiveFn       func(ctx context.Context, attendeeID string) (job.Job, error)
	latestCompletedFn func(ctx context.Context, attendeeID string) (job.Job, error)
}

func (f *fakeJobsRepo) Create(ctx context.Context, req job.CreateRequest) (job.Job, error) {
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	return job.New(req), nil
}

func (f *fakeJobsRepo) CreateCompleted(ctx context.Context, attendeeID, tenantID, cardID string) (job.Job, error) {
	if f.createCompletedFn != nil {
		return f.createCompletedFn(ctx, attendeeID, tenantID, cardID)
	}

	j := job.New(job.CreateRequest{AttendeeID: attendeeID, TenantID: tenantID})
	j.Status = job.StatusCompleted
	j.CardID = &cardID
	return j, nil
}

func (f *fakeJobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return job.Job{}, job.ErrJobNotFound
}

func (f *fakeJobsRepo) GetActiveByAttendee(ctx context.Context, attendeeID string) (job.Job, error) {
	if f.getActiveFn != nil {
		return f.getActiveFn(ctx, attendeeID)
	}
	return job.Job{}, job.ErrJobNotFound
}

func (f *fakeJobsRepo) LatestCompletedByAttendee(ctx context.Context, attendeeID string) (job.Job, error) {
	if f.latestCompletedFn != nil {
		return f.latestCompletedFn(ctx, attendeeID)
	}
	return job.Job{}, job.ErrJobNotFound
}

type fakeAttendees struct {
	getFn func(ctx context.Context, id string) (attendee.Attendee, error)
}

func (f *fakeAttendees) GetByID(ctx context.Context, id string) (attendee.Attendee, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return attendee.Attendee{}, attendee.ErrNotFound
}

type recordingPublisher struct {
	published []job.Job
}

func (p *recordingPublisher) JobQueued(ctx context.Context, j job.Job) error {
	p.published = append(p.published, j)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newPassesRouter(jobs *fakeJobsRepo, attendees *fakeAttendees, pub *recordingPublisher) *gin.Engine {
	r := gin.New()
	h := handlers.NewPassesHandler(jobs, attendees, pub)
	r.POST("/attendees/:id/issue", h.IssuePass)
	r.GET("/passes/jobs/:id", h.GetJob)
	return r
}

func doRequest(r *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request

	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIssuePassCreatesJob(t *testing.T) {
	attendeeID := uuid.NewString()
	tenantID := uuid.NewString()

	attendees := &fakeAttendees{
		getFn: func(ctx context.Context, id string) (attendee.Attendee, error) {
			if id != attendeeID {
				return attendee.Attendee{}, attendee.ErrNotFound
			}
			return attendee.Attendee{ID: attendeeID, TenantID: tenantID, Email: "a@example.com"}, nil
		},
	}

	var created *job.CreateRequest
	jobs := &fakeJobsRepo{
		createFn: func(ctx context.Context, req job.CreateRequest) (job.Job, error) {
			created = &req
			return job.New(req), nil
		},
	}

	pub := &recordingPublisher{}
	r := newPassesRouter(jobs, attendees, pub)

	body := []byte(`{"platforms":["apple"]}`)
	w := doRequest(r, http.MethodPost, "/attendees/"+attendeeID+"/issue", body)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	if created == nil {
		t.Fatalf("expected job creation")
	}
	if created.AttendeeID != attendeeID || created.TenantID != tenantID {
		t.Fatalf("job carries wrong identity: %+v", created)
	}

	var resp struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Status != "pending" {
		t.Fatalf("expected pending, got %s", resp.Status)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 nudge, got %d", len(pub.published))
	}
}

func TestIssuePassReturnsActiveJob(t *testing.T) {
	attendeeID := uuid.NewString()
	active := job.New(job.CreateRequest{AttendeeID: attendeeID, TenantID: uuid.NewString()})

	attendees := &fakeAttendees{
		getFn: func(ctx context.Context, id string) (attendee.Attendee, error) {
			return attendee.Attendee{ID: attendeeID, TenantID: active.TenantID, Email: "a@example.com"}, nil
		},
	}
	jobs := &fakeJobsRepo{
		createFn: func(ctx context.Context, req job.CreateRequest) (job.Job, error) {
			return job.Job{}, job.ErrActiveJob
		},
		getActiveFn: func(ctx context.Context, id string) (job.Job, error) {
			return active, nil
		},
	}

	pub := &recordingPublisher{}
	r := newPassesRouter(jobs, attendees, pub)

	w := doRequest(r, http.MethodPost, "/attendees/"+attendeeID+"/issue", nil)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		JobID         string `json:"jobId"`
		AlreadyQueued bool   `json:"alreadyQueued"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.JobID != active.ID || !resp.AlreadyQueued {
		t.Fatalf("expected the active job back, got %+v", resp)
	}

	if len(pub.published) != 0 {
		t.Fatalf("duplicate trigger must not publish a nudge")
	}
}

func TestIssuePassWithExistingCard(t *testing.T) {
	attendeeID := uuid.NewString()
	cardID := uuid.NewString()

	attendees := &fakeAttendees{
		getFn: func(ctx context.Context, id string) (attendee.Attendee, error) {
			return attendee.Attendee{
				ID:       attendeeID,
				TenantID: uuid.NewString(),
				Email:    "a@example.com",
				CardID:   &cardID,
			}, nil
		},
	}

	createdCompleted := false
	jobs := &fakeJobsRepo{
		createCompletedFn: func(ctx context.Context, aID, tID, cID string) (job.Job, error) {
			createdCompleted = true

			j := job.New(job.CreateRequest{AttendeeID: aID, TenantID: tID})
			j.Status = job.StatusCompleted
			j.CardID = &cID
			return j, nil
		},
	}

	r := newPassesRouter(jobs, attendees, &recordingPublisher{})

	w := doRequest(r, http.MethodPost, "/attendees/"+attendeeID+"/issue", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !createdCompleted {
		t.Fatalf("expected a synthesized completed job")
	}

	var resp struct {
		Status        string `json:"status"`
		CardID        string `json:"cardId"`
		AlreadyIssued bool   `json:"alreadyIssued"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Status != "completed" || resp.CardID != cardID || !resp.AlreadyIssued {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestIssuePassUnknownAttendee(t *testing.T) {
	r := newPassesRouter(&fakeJobsRepo{}, &fakeAttendees{}, &recordingPublisher{})

	w := doRequest(r, http.MethodPost, "/attendees/"+uuid.NewString()+"/issue", nil)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestIssuePassRejectsBadID(t *testing.T) {
	r := newPassesRouter(&fakeJobsRepo{}, &fakeAttendees{}, &recordingPublisher{})

	w := doRequest(r, http.MethodPost, "/attendees/not-a-uuid/issue", nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestIssuePassRejectsUnknownPlatform(t *testing.T) {
	attendeeID := uuid.NewString()
	r := newPassesRouter(&fakeJobsRepo{}, &fakeAttendees{}, &recordingPublisher{})

	body := []byte(`{"platforms":["samsung"]}`)
	w := doRequest(r, http.MethodPost, "/attendees/"+attendeeID+"/issue", body)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetJobProgressMessages(t *testing.T) {
	msg := "QR generation failed"

	cases := []struct {
		name    string
		mutate  func(j *job.Job)
		expects string
	}{
		{
			name:    "pending",
			mutate:  func(j *job.Job) {},
			expects: "Pass generation queued, waiting to be processed",
		},
		{
			name:    "processing",
			mutate:  func(j *job.Job) { j.Status = job.StatusProcessing },
			expects: "Generating pass and QR code...",
		},
		{
			name:    "completed",
			mutate:  func(j *job.Job) { j.Status = job.StatusCompleted },
			expects: "Pass generated successfully",
		},
		{
			name: "failed",
			mutate: func(j *job.Job) {
				j.Status = job.StatusFailed
				j.ErrorMessage = &msg
			},
			expects: "Pass generation failed: QR generation failed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := job.New(job.CreateRequest{AttendeeID: uuid.NewString(), TenantID: uuid.NewString()})
			tc.mutate(&j)

			jobs := &fakeJobsRepo{
				getFn: func(ctx context.Context, id string) (job.Job, error) {
					if id == j.ID {
						return j, nil
					}
					return job.Job{}, job.ErrJobNotFound
				},
			}

			r := newPassesRouter(jobs, &fakeAttendees{}, &recordingPublisher{})

			w := doRequest(r, http.MethodGet, "/passes/jobs/"+j.ID, nil)

			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}

			var resp struct {
				ProgressMessage string `json:"progressMessage"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("bad response: %v", err)
			}
			if resp.ProgressMessage != tc.expects {
				t.Fatalf("expected %q, got %q", tc.expects, resp.ProgressMessage)
			}
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	r := newPassesRouter(&fakeJobsRepo{}, &fakeAttendees{}, &recordingPublisher{})

	w := doRequest(r, http.MethodGet, "/passes/jobs/"+uuid.NewString(), nil)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
