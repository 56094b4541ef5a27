package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/calebwray/swapflow/internal/domain"
	"github.com/calebwray/swapflow/internal/rate"
)

// fakeStore records status writes.
type fakeStore struct {
	updates   []domain.StatusUpdate
	decisions []domain.QuoteResponse
	appendErr error
}

func (f *fakeStore) Insert(context.Context, domain.HistoryRecord) error { return nil }

func (f *fakeStore) AppendStatus(_ context.Context, upd domain.StatusUpdate) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.updates = append(f.updates, upd)
	return nil
}

func (f *fakeStore) RecordRoutingDecision(_ context.Context, _ string, quote domain.QuoteResponse) error {
	f.decisions = append(f.decisions, quote)
	return nil
}

func (f *fakeStore) List(context.Context, domain.HistoryListOpts) (domain.HistoryPage, error) {
	return domain.HistoryPage{}, nil
}

func (f *fakeStore) GetByID(context.Context, string) (domain.HistoryRecord, error) {
	return domain.HistoryRecord{}, domain.ErrNotFound
}

type fakeSink struct {
	sent []domain.StatusMessage
}

func (f *fakeSink) SendStatus(orderID string, status domain.Status, detail, link string) {
	f.sent = append(f.sent, domain.StatusMessage{OrderID: orderID, Status: status, Detail: detail, Link: link})
}

// stubVenue only needs BuildSwap for worker tests.
type stubVenue struct {
	name     string
	built    domain.BuiltTransaction
	buildErr error
	calls    int
}

func (s *stubVenue) Name() string { return s.name }

func (s *stubVenue) Quote(context.Context, domain.QuoteRequest) (domain.QuoteResponse, error) {
	return domain.QuoteResponse{}, errors.New("not used")
}

func (s *stubVenue) BuildSwap(context.Context, domain.BuildRequest) (domain.BuiltTransaction, error) {
	s.calls++
	if s.buildErr != nil {
		return domain.BuiltTransaction{}, s.buildErr
	}
	return s.built, nil
}

type fakeRoutes struct {
	plan     domain.RoutePlan
	decision domain.RoutingDecision
	err      error
}

func (f *fakeRoutes) FindBestRoute(context.Context, domain.OrderJob) (domain.RoutePlan, domain.RoutingDecision, error) {
	return f.plan, f.decision, f.err
}

type fakeLimiter struct {
	denials int // number of initial denials before allowing
	calls   int
}

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	f.calls++
	return f.calls > f.denials, nil
}

type fakeChain struct {
	sig        string
	submitErr  error // reject before a signature exists
	confirmErr error // fail after onSubmitted fired
}

func (f *fakeChain) SubmitAndConfirm(_ context.Context, _ domain.BuiltTransaction, onSubmitted func(string)) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if onSubmitted != nil {
		onSubmitted(f.sig)
	}
	if f.confirmErr != nil {
		return f.sig, f.confirmErr
	}
	return f.sig, nil
}

func (f *fakeChain) ExplorerLink(sig string) string {
	return "https://explorer.solana.com/tx/" + sig
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob() *domain.OrderJob {
	return &domain.OrderJob{
		OrderRequest: domain.OrderRequest{
			TokenIn:   "So11111111111111111111111111111111111111112",
			TokenOut:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			Amount:    1_000_000,
			OrderType: domain.OrderTypeMarket,
		},
		OrderID:    "ORDER1234567",
		ReceivedAt: time.Now().UTC(),
	}
}

func routesFor(v *stubVenue, estimatedOut uint64) *fakeRoutes {
	return &fakeRoutes{
		plan: domain.RoutePlan{
			Winner: v,
			Quote:  domain.QuoteResponse{Venue: v.name, EstimatedOut: estimatedOut, MinOut: estimatedOut - estimatedOut/100},
		},
		decision: domain.RoutingDecision{Winner: v.name},
	}
}

func newTestWorker(store *fakeStore, sink *fakeSink, routes RouteFinder, limiter domain.RateLimiter, chain domain.ChainSubmitter) *Worker {
	return New(store, sink, routes, limiter, chain, "WALLETPUB", Config{RateLimit: 10}, testLogger())
}

func sentStatuses(sink *fakeSink) []domain.Status {
	out := make([]domain.Status, 0, len(sink.sent))
	for _, m := range sink.sent {
		out = append(out, m.Status)
	}
	return out
}

func TestProcessHappyPath(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	venue := &stubVenue{name: "raydium", built: domain.BuiltTransaction{Transaction: []byte("tx")}}
	chain := &fakeChain{sig: "SIG123"}
	w := newTestWorker(store, sink, routesFor(venue, 2_000_000), &fakeLimiter{}, chain)

	job := testJob()
	if err := w.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := []domain.Status{
		domain.StatusQueued, domain.StatusRouting, domain.StatusBuilding,
		domain.StatusSubmitted, domain.StatusConfirmed,
	}
	got := sentStatuses(sink)
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}

	if len(store.decisions) != 1 || store.decisions[0].Venue != "raydium" {
		t.Fatalf("decisions = %+v", store.decisions)
	}
	if venue.calls != 1 {
		t.Fatalf("build calls = %d, want 1", venue.calls)
	}

	final := store.updates[len(store.updates)-1]
	if final.Status != domain.StatusConfirmed || final.ExecutedAmount != "2000000" {
		t.Fatalf("final update = %+v", final)
	}
	if final.TxHash != "SIG123" || !strings.Contains(final.Link, "SIG123") {
		t.Fatalf("final update should carry the signature and link, got %+v", final)
	}
}

func TestProcessNoQuotesReturnsError(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	routes := &fakeRoutes{err: &domain.NoQuotesError{Reasons: map[string]string{"raydium": "no pool", "orca": "timeout"}}}
	w := newTestWorker(store, sink, routes, &fakeLimiter{}, &fakeChain{})

	job := testJob()
	err := w.Process(context.Background(), job)
	if err == nil {
		t.Fatal("expected an error when routing fails")
	}
	var nq *domain.NoQuotesError
	if !errors.As(err, &nq) {
		t.Fatalf("error should wrap NoQuotesError, got %v", err)
	}
	if job.LastError == "" {
		t.Fatal("LastError should be recorded on the job")
	}

	got := sentStatuses(sink)
	if len(got) != 2 || got[0] != domain.StatusQueued || got[1] != domain.StatusRouting {
		t.Fatalf("statuses = %v, want [queued routing]", got)
	}
}

func TestProcessBuildFailureStopsBeforeSubmit(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	venue := &stubVenue{name: "orca", buildErr: domain.ErrPoolChanged}
	chain := &fakeChain{sig: "NEVER"}
	w := newTestWorker(store, sink, routesFor(venue, 500), &fakeLimiter{}, chain)

	job := testJob()
	if err := w.Process(context.Background(), job); err == nil {
		t.Fatal("expected an error when the build fails")
	}
	for _, m := range sink.sent {
		if m.Status == domain.StatusSubmitted || m.Status == domain.StatusConfirmed {
			t.Fatalf("unexpected status %s after a build failure", m.Status)
		}
	}
}

func TestProcessConfirmFailureKeepsSubmitted(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	venue := &stubVenue{name: "raydium", built: domain.BuiltTransaction{Transaction: []byte("tx")}}
	chain := &fakeChain{sig: "SIGX", confirmErr: domain.ErrChainSubmit}
	w := newTestWorker(store, sink, routesFor(venue, 500), &fakeLimiter{}, chain)

	job := testJob()
	if err := w.Process(context.Background(), job); err == nil {
		t.Fatal("expected an error when confirmation fails")
	}

	got := sentStatuses(sink)
	if got[len(got)-1] != domain.StatusSubmitted {
		t.Fatalf("statuses = %v, want submitted last", got)
	}
	if job.LastTxSignature != "SIGX" {
		t.Fatalf("LastTxSignature = %q, want SIGX", job.LastTxSignature)
	}
}

func TestProcessRedeliverySkipsEmittedStatuses(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	venue := &stubVenue{name: "raydium", built: domain.BuiltTransaction{Transaction: []byte("tx")}}
	w := newTestWorker(store, sink, routesFor(venue, 500), &fakeLimiter{}, &fakeChain{sig: "SIG2"})

	// Simulate a redelivered job that already announced the early stages
	// before the previous attempt crashed.
	job := testJob()
	job.MarkEmitted(domain.StatusQueued)
	job.MarkEmitted(domain.StatusRouting)
	job.MarkEmitted(domain.StatusBuilding)

	if err := w.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := sentStatuses(sink)
	if len(got) != 2 || got[0] != domain.StatusSubmitted || got[1] != domain.StatusConfirmed {
		t.Fatalf("statuses = %v, want only [submitted confirmed]", got)
	}
}

func TestProcessWaitsForRateSlot(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	venue := &stubVenue{name: "raydium", built: domain.BuiltTransaction{Transaction: []byte("tx")}}
	limiter := &fakeLimiter{denials: 2}
	w := newTestWorker(store, sink, routesFor(venue, 500), limiter, &fakeChain{sig: "SIG3"})

	if err := w.Process(context.Background(), testJob()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if limiter.calls != 3 {
		t.Fatalf("limiter calls = %d, want 3 (two denials then admit)", limiter.calls)
	}
}

func TestProcessAdmitsUnderInProcessLimiter(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	venue := &stubVenue{name: "raydium", built: domain.BuiltTransaction{Transaction: []byte("tx")}}
	w := newTestWorker(store, sink, routesFor(venue, 500), rate.NewMemoryLimiter(), &fakeChain{sig: "SIG4"})

	if err := w.Process(context.Background(), testJob()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := sentStatuses(sink); got[len(got)-1] != domain.StatusConfirmed {
		t.Fatalf("statuses = %v, want confirmed last", got)
	}
}

func TestProcessRateGateHonorsCancellation(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	limiter := &fakeLimiter{denials: 1 << 30}
	w := newTestWorker(store, sink, &fakeRoutes{}, limiter, &fakeChain{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.Process(ctx, testJob()); err == nil {
		t.Fatal("expected an error when the context expires at the gate")
	}
}

func TestHandleFinalFailure(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	w := newTestWorker(store, sink, &fakeRoutes{}, &fakeLimiter{}, &fakeChain{})

	job := testJob()
	cause := &domain.NoQuotesError{Reasons: map[string]string{"raydium": "no pool"}}
	w.HandleFinalFailure(context.Background(), *job, cause)

	if len(store.updates) != 1 || store.updates[0].Status != domain.StatusFailed {
		t.Fatalf("updates = %+v, want one failed", store.updates)
	}
	if store.updates[0].Detail != "Unable to fetch quotes from any venue" {
		t.Fatalf("detail = %q", store.updates[0].Detail)
	}
	if store.updates[0].LastError == "" {
		t.Fatal("LastError should be written on final failure")
	}
	if len(sink.sent) != 1 || sink.sent[0].Status != domain.StatusFailed {
		t.Fatalf("sent = %+v, want one failed frame", sink.sent)
	}

	// A second call for the same job value re-emits nothing new only when
	// the emitted set travels with it.
	job.MarkEmitted(domain.StatusFailed)
	w.HandleFinalFailure(context.Background(), *job, cause)
	if len(sink.sent) != 1 {
		t.Fatalf("failed should not be emitted twice, sent = %+v", sink.sent)
	}
}
