package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

func TestTicketFullLifecycle(t *testing.T) {
	h := newHarness(t, electrician("tech-1", "Ana", 3))
	ctx := context.Background()

	skill := "electrical"
	ticket, err := h.ticketSvc.CreateTicket(ctx, requesterActor, TicketCreateInput{Title: " Lamp out ", CatalogServiceID: &skill})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ticket.Status != domain.TicketStatusOpen || ticket.SLA != nil {
		t.Fatalf("unexpected new ticket: %+v", ticket)
	}
	if !strings.HasPrefix(ticket.ExternalKey, "MNT-") || len(ticket.ExternalKey) != 12 {
		t.Errorf("unexpected external key %q", ticket.ExternalKey)
	}
	if ticket.Title != "Lamp out" {
		t.Errorf("title not trimmed: %q", ticket.Title)
	}
	if _, err := h.ticketSvc.GetSlaStatus(ctx, ticket.ID); !apperrors.IsKind(err, apperrors.CodePrecondition) {
		t.Fatalf("expected precondition for unclassified ticket, got %v", err)
	}

	ticket, err = h.ticketSvc.Classify(ctx, dispatcherActor, ticket.ID, ClassifyInput{
		Priority:         "high",
		AttendanceNature: "standard",
	})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ticket.Status != domain.TicketStatusValidated {
		t.Fatalf("expected validated, got %s", ticket.Status)
	}
	if want := belem(t, 2024, time.March, 4, 11, 0); !ticket.SLA.ResponseDueAt.Equal(want) {
		t.Errorf("response due %v, want %v", ticket.SLA.ResponseDueAt, want)
	}
	if want := belem(t, 2024, time.March, 4, 18, 0); !ticket.SLA.ResolutionDueAt.Equal(want) {
		t.Errorf("resolution due %v, want %v", ticket.SLA.ResolutionDueAt, want)
	}

	h.clock.Set(belem(t, 2024, time.March, 4, 10, 30))
	assigned, err := h.assignSvc.Assign(ctx, dispatcherActor, ticket.ID, "")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.TechnicianID != "tech-1" || assigned.Ticket.Status != domain.TicketStatusInService {
		t.Fatalf("unexpected assignment %+v", assigned)
	}
	if assigned.Ticket.SLA.ResponseStartedAt == nil || assigned.Ticket.SLA.ResponseBreachedAt != nil {
		t.Fatalf("response clock should be met: %+v", assigned.Ticket.SLA)
	}

	h.clock.Set(belem(t, 2024, time.March, 4, 12, 0))
	tech := domain.Actor{ID: "tech-1", Role: domain.RoleTechnician}
	completed, err := h.ticketSvc.RecordCompletion(ctx, tech, ticket.ID, "Replaced breaker")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != domain.TicketStatusCompleted || completed.SLA.ResolvedAt == nil {
		t.Fatalf("unexpected completed ticket %+v", completed)
	}

	status, err := h.ticketSvc.GetSlaStatus(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("sla status: %v", err)
	}
	if status.ResponseState != domain.ClockMet || status.ResolutionState != domain.ClockMet {
		t.Errorf("expected both clocks met, got %s/%s", status.ResponseState, status.ResolutionState)
	}
	if status.DisplayStatus != domain.DisplayOnTime {
		t.Errorf("expected on_time, got %s", status.DisplayStatus)
	}

	closed, err := h.ticketSvc.Close(ctx, dispatcherActor, ticket.ID, "verified")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != domain.TicketStatusClosed || closed.ClosedAt == nil {
		t.Fatalf("unexpected closed ticket %+v", closed)
	}

	wantActions := []domain.HistoryAction{
		domain.ActionCreated, domain.ActionClassified, domain.ActionAssigned,
		domain.ActionCompleted, domain.ActionClosed,
	}
	if got := h.history.actions(ticket.ID); !reflect.DeepEqual(got, wantActions) {
		t.Errorf("history %v, want %v", got, wantActions)
	}
	wantEvents := []events.EventType{
		events.EventTicketCreated, events.EventTicketClassified, events.EventTicketAssigned,
		events.EventTicketCompleted, events.EventTicketClosed,
	}
	if got := h.events.types(); !reflect.DeepEqual(got, wantEvents) {
		t.Errorf("events %v, want %v", got, wantEvents)
	}
}

func TestIllegalTransitionsNameCurrentStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket, err := h.ticketSvc.CreateTicket(ctx, requesterActor, TicketCreateInput{Title: "Leak"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = h.ticketSvc.Close(ctx, dispatcherActor, ticket.ID, "")
	if !apperrors.IsKind(err, apperrors.CodePrecondition) {
		t.Fatalf("expected precondition, got %v", err)
	}
	if got := apperrors.ToDomainError(err).Details["current_status"]; got != "open" {
		t.Errorf("current_status %v, want open", got)
	}
	if _, err := h.ticketSvc.RecordCompletion(ctx, dispatcherActor, ticket.ID, "done"); !apperrors.IsKind(err, apperrors.CodePrecondition) {
		t.Errorf("complete on open: expected precondition, got %v", err)
	}
	if _, err := h.assignSvc.Assign(ctx, dispatcherActor, ticket.ID, ""); !apperrors.IsKind(err, apperrors.CodePrecondition) {
		t.Errorf("assign on open: expected precondition, got %v", err)
	}
	stored, _ := h.tickets.GetByID(ctx, ticket.ID)
	if stored.Status != domain.TicketStatusOpen {
		t.Errorf("failed transitions must not change state, got %s", stored.Status)
	}
}

func TestClassifyValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket, _ := h.ticketSvc.CreateTicket(ctx, requesterActor, TicketCreateInput{Title: "Door"})

	cases := []struct {
		name  string
		input ClassifyInput
		code  string
	}{
		{"bad priority", ClassifyInput{Priority: "SOMEDAY", AttendanceNature: "standard"}, apperrors.CodeValidation},
		{"bad nature", ClassifyInput{Priority: "LOW", AttendanceNature: "whenever"}, apperrors.CodeValidation},
		{"no skill", ClassifyInput{Priority: "LOW", AttendanceNature: "standard"}, apperrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.ticketSvc.Classify(ctx, dispatcherActor, ticket.ID, tc.input)
			if !apperrors.IsKind(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}

	if _, err := h.ticketSvc.Classify(ctx, dispatcherActor, "missing", ClassifyInput{Priority: "LOW", AttendanceNature: "standard"}); !apperrors.IsKind(err, apperrors.CodeNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestClassifyUrgentRunsAroundTheClock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// Friday evening, outside business hours.
	h.clock.Set(belem(t, 2024, time.March, 8, 20, 0))
	skill := "plumbing"
	ticket, _ := h.ticketSvc.CreateTicket(ctx, requesterActor, TicketCreateInput{Title: "Flood", CatalogServiceID: &skill})
	ticket, err := h.ticketSvc.Classify(ctx, dispatcherActor, ticket.ID, ClassifyInput{Priority: "NORMAL", AttendanceNature: "urgent"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if ticket.SLA.BusinessHoursOnly {
		t.Fatal("urgent attendance must not follow business hours")
	}
	if want := belem(t, 2024, time.March, 9, 6, 0); !ticket.SLA.ResponseDueAt.Equal(want) {
		t.Errorf("response due %v, want %v", ticket.SLA.ResponseDueAt, want)
	}
}

func TestConcurrentClassifyOnlyOneWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	skill := "electrical"
	ticket, _ := h.ticketSvc.CreateTicket(ctx, requesterActor, TicketCreateInput{Title: "Sparks", CatalogServiceID: &skill})

	// The competing classification lands between our read and our write.
	var once bool
	h.tickets.beforeUpdate = func() {
		if once {
			return
		}
		once = true
		other, _ := h.tickets.GetByID(ctx, ticket.ID)
		other.Status = domain.TicketStatusValidated
		h.tickets.put(other)
	}
	_, err := h.ticketSvc.Classify(ctx, dispatcherActor, ticket.ID, ClassifyInput{Priority: "LOW", AttendanceNature: "standard"})
	if !apperrors.IsKind(err, apperrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRecordCompletionRules(t *testing.T) {
	h := newHarness(t, electrician("tech-1", "Ana", 3))
	ctx := context.Background()
	ticket := h.classifiedTicket(t, domain.TicketPriorityNormal)
	if _, err := h.assignSvc.Assign(ctx, dispatcherActor, ticket.ID, "tech-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := h.ticketSvc.RecordCompletion(ctx, dispatcherActor, ticket.ID, "  "); !apperrors.IsKind(err, apperrors.CodeValidation) {
		t.Errorf("expected validation for empty details, got %v", err)
	}
	stranger := domain.Actor{ID: "tech-9", Role: domain.RoleTechnician}
	if _, err := h.ticketSvc.RecordCompletion(ctx, stranger, ticket.ID, "done"); !apperrors.IsKind(err, apperrors.CodeForbidden) {
		t.Errorf("expected forbidden for other technician, got %v", err)
	}
	if _, err := h.ticketSvc.RecordCompletion(ctx, dispatcherActor, ticket.ID, "done by dispatcher"); err != nil {
		t.Errorf("dispatcher completion: %v", err)
	}
}

func TestCompletionAfterDueRecordsResolutionBreach(t *testing.T) {
	h := newHarness(t, electrician("tech-1", "Ana", 3))
	ctx := context.Background()
	ticket := h.classifiedTicket(t, domain.TicketPriorityHigh)
	if _, err := h.assignSvc.Assign(ctx, dispatcherActor, ticket.ID, ""); err != nil {
		t.Fatalf("assign: %v", err)
	}
	late := belem(t, 2024, time.March, 5, 9, 0)
	h.clock.Set(late)
	done, err := h.ticketSvc.RecordCompletion(ctx, dispatcherActor, ticket.ID, "finally")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.SLA.ResolutionBreachedAt == nil || !done.SLA.ResolutionBreachedAt.Equal(late) {
		t.Fatalf("expected resolution breach at %v, got %v", late, done.SLA.ResolutionBreachedAt)
	}
	if h.events.count(events.EventSlaBreached) != 1 {
		t.Errorf("expected one sla_breached event, got %v", h.events.types())
	}
}

func TestCompletionKeepsEarlierSweepBreach(t *testing.T) {
	h := newHarness(t, electrician("tech-1", "Ana", 3))
	ctx := context.Background()
	ticket := h.classifiedTicket(t, domain.TicketPriorityHigh)
	if _, err := h.assignSvc.Assign(ctx, dispatcherActor, ticket.ID, ""); err != nil {
		t.Fatalf("assign: %v", err)
	}

	sweptAt := belem(t, 2024, time.March, 4, 19, 0)
	completedAt := belem(t, 2024, time.March, 4, 19, 30)
	h.clock.Set(completedAt)
	h.tickets.beforeUpdate = func() {
		h.tickets.beforeUpdate = nil
		h.clock.Set(sweptAt)
		if n, err := h.ticketSvc.EvaluateBreaches(ctx, 100); err != nil || n != 1 {
			t.Errorf("sweep: n=%d err=%v", n, err)
		}
	}
	done, err := h.ticketSvc.RecordCompletion(ctx, dispatcherActor, ticket.ID, "replaced breaker")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := done.SLA.ResolutionBreachedAt; got == nil || !got.Equal(sweptAt) {
		t.Fatalf("resolution breach = %v, want first recorded %v", got, sweptAt)
	}
	if got := done.SLA.ResolvedAt; got == nil || !got.Equal(completedAt) {
		t.Errorf("resolved at = %v, want %v", got, completedAt)
	}
	if h.events.count(events.EventSlaBreached) != 1 {
		t.Errorf("breach must be announced once, got %v", h.events.types())
	}
}

func TestCancelRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket, _ := h.ticketSvc.CreateTicket(ctx, requesterActor, TicketCreateInput{Title: "Window"})

	if _, err := h.ticketSvc.Cancel(ctx, requesterActor, ticket.ID, ""); !apperrors.IsKind(err, apperrors.CodeValidation) {
		t.Errorf("expected validation for missing reason, got %v", err)
	}
	other := domain.Actor{ID: "requester-2", Role: domain.RoleRequester}
	if _, err := h.ticketSvc.Cancel(ctx, other, ticket.ID, "not mine"); !apperrors.IsKind(err, apperrors.CodeForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	cancelled, err := h.ticketSvc.Cancel(ctx, requesterActor, ticket.ID, "fixed it myself")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.TicketStatusCancelled || cancelled.CancelReason != "fixed it myself" {
		t.Fatalf("unexpected cancelled ticket %+v", cancelled)
	}
	if _, err := h.ticketSvc.Cancel(ctx, requesterActor, ticket.ID, "again"); !apperrors.IsKind(err, apperrors.CodePrecondition) {
		t.Errorf("second cancel: expected precondition, got %v", err)
	}
}

func TestLegacyPendingValidationBehavesAsValidated(t *testing.T) {
	h := newHarness(t, electrician("tech-1", "Ana", 3))
	ctx := context.Background()
	ticket := h.classifiedTicket(t, domain.TicketPriorityLow)
	stored, _ := h.tickets.GetByID(ctx, ticket.ID)
	stored.Status = domain.TicketStatusPendingValidation
	h.tickets.put(stored)

	if _, err := h.ticketSvc.Close(ctx, dispatcherActor, ticket.ID, ""); err == nil {
		t.Fatal("close must be rejected")
	} else if got := apperrors.ToDomainError(err).Details["current_status"]; got != "validated" {
		t.Errorf("legacy status must be reported as validated, got %v", got)
	}
	if _, err := h.assignSvc.Assign(ctx, dispatcherActor, ticket.ID, ""); err != nil {
		t.Fatalf("assign from legacy status: %v", err)
	}
}

func TestHistoryFailureDoesNotUndoTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.history.err = errBoom
	ticket, err := h.ticketSvc.CreateTicket(ctx, requesterActor, TicketCreateInput{Title: "Fan"})
	if err != nil {
		t.Fatalf("create must succeed even if history fails: %v", err)
	}
	if _, err := h.ticketSvc.Cancel(ctx, requesterActor, ticket.ID, "dup"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestRepositoryFailureSurfacesAsInternal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket, _ := h.ticketSvc.CreateTicket(ctx, requesterActor, TicketCreateInput{Title: "Fan"})
	h.tickets.updateErr = errBoom
	_, err := h.ticketSvc.Cancel(ctx, requesterActor, ticket.ID, "dup")
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped repository error, got %v", err)
	}
	if apperrors.Code(err) != apperrors.CodeInternal {
		t.Errorf("expected internal code, got %s", apperrors.Code(err))
	}
}

func TestEvaluateBreachesIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.classifiedTicket(t, domain.TicketPriorityHigh)

	h.clock.Set(belem(t, 2024, time.March, 4, 10, 30))
	if n, err := h.ticketSvc.EvaluateBreaches(ctx, 100); err != nil || n != 0 {
		t.Fatalf("nothing due yet: n=%d err=%v", n, err)
	}

	first := belem(t, 2024, time.March, 4, 11, 5)
	h.clock.Set(first)
	if n, err := h.ticketSvc.EvaluateBreaches(ctx, 100); err != nil || n != 1 {
		t.Fatalf("expected one ticket updated: n=%d err=%v", n, err)
	}
	h.clock.Set(belem(t, 2024, time.March, 4, 11, 30))
	if n, err := h.ticketSvc.EvaluateBreaches(ctx, 100); err != nil || n != 0 {
		t.Fatalf("second sweep must not rewrite: n=%d err=%v", n, err)
	}

	stored, _ := h.tickets.GetByID(ctx, ticket.ID)
	if stored.SLA.ResponseBreachedAt == nil || !stored.SLA.ResponseBreachedAt.Equal(first) {
		t.Fatalf("breach instant must stay at first detection, got %v", stored.SLA.ResponseBreachedAt)
	}
	if stored.SLA.ResolutionBreachedAt != nil {
		t.Errorf("resolution not due yet")
	}
	if got := h.history.actions(ticket.ID); got[len(got)-1] != domain.ActionSlaBreached {
		t.Errorf("expected SLA_BREACHED history, got %v", got)
	}
	if h.events.count(events.EventSlaBreached) != 1 {
		t.Errorf("expected exactly one breach event, got %v", h.events.types())
	}
}

func TestEvaluateBreachesSkipsTicketsChangedMeanwhile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.classifiedTicket(t, domain.TicketPriorityHigh)
	h.clock.Set(belem(t, 2024, time.March, 4, 12, 0))

	h.tickets.beforeUpdate = func() {
		h.tickets.beforeUpdate = nil
		other, _ := h.tickets.GetByID(ctx, ticket.ID)
		h.tickets.put(other)
	}
	n, err := h.ticketSvc.EvaluateBreaches(ctx, 100)
	if err != nil || n != 0 {
		t.Fatalf("changed ticket must be skipped: n=%d err=%v", n, err)
	}
}

func TestEvaluateBreachesIgnoresStoppedClocks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	day := func(hour, min int) time.Time { return belem(t, 2024, time.March, 4, hour, min) }

	// Completed within target, with the earliest due dates in the table.
	for i := 0; i < 5; i++ {
		h.tickets.put(&domain.Ticket{
			Status: domain.TicketStatusCompleted,
			SLA: &domain.SlaRecord{
				Priority:          domain.TicketPriorityHigh,
				ResponseDueAt:     day(8, i),
				ResolutionDueAt:   day(9, i),
				ResponseStartedAt: timePtr(day(7, 0)),
				ResolvedAt:        timePtr(day(7, 30)),
			},
		})
	}
	// Responded on time, resolution still running.
	for i := 0; i < 3; i++ {
		h.tickets.put(&domain.Ticket{
			Status: domain.TicketStatusInService,
			SLA: &domain.SlaRecord{
				Priority:          domain.TicketPriorityHigh,
				ResponseDueAt:     day(10, 0),
				ResolutionDueAt:   day(20, i),
				ResponseStartedAt: timePtr(day(9, 30)),
			},
		})
	}
	overdue := h.classifiedTicket(t, domain.TicketPriorityHigh)

	h.clock.Set(day(12, 0))
	if n, err := h.ticketSvc.EvaluateBreaches(ctx, 2); err != nil || n != 1 {
		t.Fatalf("expected the overdue ticket to be swept: n=%d err=%v", n, err)
	}
	stored, _ := h.tickets.GetByID(ctx, overdue.ID)
	if stored.SLA.ResponseBreachedAt == nil {
		t.Fatal("response breach not recorded")
	}
}

func TestListHistoryUnknownTicket(t *testing.T) {
	h := newHarness(t)
	if _, err := h.ticketSvc.ListHistory(context.Background(), "nope"); !apperrors.IsKind(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListFiltersByRequester(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.ticketSvc.CreateTicket(ctx, requesterActor, TicketCreateInput{Title: "Mine"})
	_, _ = h.ticketSvc.CreateTicket(ctx, domain.Actor{ID: "requester-2", Role: domain.RoleRequester}, TicketCreateInput{Title: "Theirs"})

	requesterID := requesterActor.ID
	list, err := h.ticketSvc.List(ctx, TicketListFilter{RequesterID: &requesterID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Mine" {
		t.Fatalf("unexpected list %+v", list)
	}
}
