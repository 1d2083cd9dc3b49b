package finance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/finance"
)

func TestPeriodResolver(t *testing.T) {
	w := newWorld(t)
	require.NoError(t, w.store.SaveSession(w.ctx, finance.AcademicSession{
		ID: "sess-2024", SchoolID: testSchool, Year: 2024, IsActive: true,
	}))
	require.NoError(t, w.store.SaveTerm(w.ctx, finance.Term{
		ID: "old-term", SchoolID: testSchool, SessionID: "sess-2024", IsActive: true,
	}))
	require.NoError(t, w.store.SaveSession(w.ctx, finance.AcademicSession{
		ID: "other-school", SchoolID: "school-2", Year: 2025, IsActive: true,
	}))
	resolver := finance.NewPeriodResolver(w.store)

	t.Run("defaults to current session and term", func(t *testing.T) {
		p, ok, err := resolver.Resolve(w.ctx, testSchool, nil, nil)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, testSession, p.SessionID())
		assert.Equal(t, firstTerm, *p.TermID())
	})

	t.Run("current term outside explicit session is dropped", func(t *testing.T) {
		p, ok, err := resolver.Resolve(w.ctx, testSchool, sessionPtr("sess-2024"), nil)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Nil(t, p.TermID())
	})

	t.Run("explicit term from another session is missing", func(t *testing.T) {
		_, ok, err := resolver.Resolve(w.ctx, testSchool, nil, termPtr("old-term"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("session of another school is missing", func(t *testing.T) {
		_, ok, err := resolver.Resolve(w.ctx, testSchool, sessionPtr("other-school"), nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPeriodResolver_FallsBackToLatestSession(t *testing.T) {
	// GIVEN: No session flagged current
	// WHEN: Resolving with no explicit ids
	// THEN: The active session with the highest year wins

	w := newEmptyWorld(t)
	for _, s := range []finance.AcademicSession{
		{ID: "s-2023", SchoolID: testSchool, Year: 2023, IsActive: true},
		{ID: "s-2024", SchoolID: testSchool, Year: 2024, IsActive: true},
		{ID: "s-2026", SchoolID: testSchool, Year: 2026, IsActive: false},
	} {
		require.NoError(t, w.store.SaveSession(w.ctx, s))
	}

	p, ok, err := finance.NewPeriodResolver(w.store).Resolve(w.ctx, testSchool, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, finance.SessionID("s-2024"), p.SessionID())
	assert.Nil(t, p.Term)
}
