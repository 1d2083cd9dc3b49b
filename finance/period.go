/*
period.go - Academic session/term context resolution

PURPOSE:
  Every balance, breakdown and allocation is scoped to one academic
  session and, optionally, one term. Callers may name them explicitly or
  leave them out; this file decides which period applies.

RESOLUTION RULES:
  Session:
    1. An explicit session id must exist and belong to the school
    2. Otherwise the school's current session
    3. Otherwise the active session with the highest year
  Term:
    1. An explicit term id must exist and belong to the chosen session
    2. Otherwise the school's current term, if it belongs to the session
    3. Otherwise no term (the whole session)

  When no session can be found the period is "missing": callers return
  zero results instead of failing, so dashboards keep rendering.

SEE ALSO:
  - balance.go: Resolves the period for balances and breakdowns
  - ledger.go: Resolves the period stamped on new settlements
*/
package finance

import (
	"context"
	"errors"
)

// Period is a resolved session and optional term.
type Period struct {
	Session AcademicSession
	Term    *Term
}

func (p Period) SessionID() SessionID { return p.Session.ID }

// TermID returns nil when the period covers the whole session.
func (p Period) TermID() *TermID {
	if p.Term == nil {
		return nil
	}
	id := p.Term.ID
	return &id
}

// PeriodResolver picks the session/term for a request.
type PeriodResolver struct {
	Calendar Calendar
}

func NewPeriodResolver(c Calendar) *PeriodResolver {
	return &PeriodResolver{Calendar: c}
}

// Resolve returns the period and true, or false when the school has no
// usable session (or an explicit id does not resolve).
func (r *PeriodResolver) Resolve(ctx context.Context, schoolID SchoolID, sessionID *SessionID, termID *TermID) (Period, bool, error) {
	session, ok, err := r.session(ctx, schoolID, sessionID)
	if err != nil || !ok {
		return Period{}, false, err
	}

	period := Period{Session: session}

	if termID != nil {
		term, err := r.Calendar.GetTerm(ctx, *termID)
		if errors.Is(err, ErrEntityNotFound) {
			return Period{}, false, nil
		}
		if err != nil {
			return Period{}, false, err
		}
		if term.SessionID != session.ID {
			return Period{}, false, nil
		}
		period.Term = &term
		return period, true, nil
	}

	current, err := r.Calendar.CurrentTerm(ctx, schoolID)
	switch {
	case errors.Is(err, ErrEntityNotFound):
	case err != nil:
		return Period{}, false, err
	case current.SessionID == session.ID:
		period.Term = &current
	}
	return period, true, nil
}

func (r *PeriodResolver) session(ctx context.Context, schoolID SchoolID, sessionID *SessionID) (AcademicSession, bool, error) {
	if sessionID != nil {
		s, err := r.Calendar.GetSession(ctx, *sessionID)
		if errors.Is(err, ErrEntityNotFound) {
			return AcademicSession{}, false, nil
		}
		if err != nil {
			return AcademicSession{}, false, err
		}
		return s, s.SchoolID == schoolID, nil
	}

	s, err := r.Calendar.CurrentSession(ctx, schoolID)
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, ErrEntityNotFound) {
		return AcademicSession{}, false, err
	}

	s, err = r.Calendar.LatestSession(ctx, schoolID)
	if errors.Is(err, ErrEntityNotFound) {
		return AcademicSession{}, false, nil
	}
	if err != nil {
		return AcademicSession{}, false, err
	}
	return s, true, nil
}
