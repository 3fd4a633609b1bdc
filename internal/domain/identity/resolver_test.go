package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prezlab/nasma/backend/internal/shared/types"
)

type fakeDirectory struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (d *fakeDirectory) Employee(_ context.Context, id int64) (*types.Employee, error) {
	d.calls.Add(1)
	if d.release != nil {
		<-d.release
	}
	if d.err != nil {
		return nil, d.err
	}
	return &types.Employee{
		ID:          id,
		Name:        "Rami Saleh",
		JobTitle:    "Designer",
		Department:  "Creative",
		CompanyID:   3,
		CompanyName: "Prezlab FZ LLC",
		TimeZone:    "Asia/Dubai",
	}, nil
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		claim Claim
		want  types.Identity
		calls int32
	}{
		{
			name:  "anonymous",
			claim: Claim{},
			want:  types.Identity{},
		},
		{
			name:  "non numeric user id stays anonymous",
			claim: Claim{UserID: "guest"},
			want:  types.Identity{UserID: "guest"},
		},
		{
			name: "complete snapshot is trusted",
			claim: Claim{Employee: &types.Employee{
				ID: 9, Name: "Lina Haddad", CompanyID: 2, Department: "People & Culture",
			}},
			want: types.Identity{
				UserID: "9", TenantID: "2", UserName: "Lina Haddad",
				Employee: &types.Employee{ID: 9, Name: "Lina Haddad", CompanyID: 2, Department: "People & Culture"},
			},
		},
		{
			name:  "user id is completed from the directory",
			claim: Claim{UserID: "15"},
			want: types.Identity{
				UserID: "15", TenantID: "3", UserName: "Rami Saleh",
				Employee: &types.Employee{
					ID: 15, Name: "Rami Saleh", JobTitle: "Designer", Department: "Creative",
					CompanyID: 3, CompanyName: "Prezlab FZ LLC", TimeZone: "Asia/Dubai",
				},
			},
			calls: 1,
		},
		{
			name:  "client values win over the directory",
			claim: Claim{TenantID: "7", Employee: &types.Employee{ID: 15, Department: "Sales"}},
			want: types.Identity{
				UserID: "15", TenantID: "7", UserName: "Rami Saleh",
				Employee: &types.Employee{
					ID: 15, Name: "Rami Saleh", JobTitle: "Designer", Department: "Sales",
					CompanyID: 3, CompanyName: "Prezlab FZ LLC", TimeZone: "Asia/Dubai",
				},
			},
			calls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &fakeDirectory{}
			r := NewResolver(dir)
			got := r.Resolve(context.Background(), tt.claim)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.calls, dir.calls.Load())
		})
	}
}

func TestResolveDoesNotMutateClaim(t *testing.T) {
	r := NewResolver(&fakeDirectory{})
	claimed := &types.Employee{ID: 15}

	got := r.Resolve(context.Background(), Claim{Employee: claimed})
	assert.Equal(t, "Rami Saleh", got.Employee.Name)
	assert.Empty(t, claimed.Name)
}

func TestDirectoryFailureKeepsTheCallerKnown(t *testing.T) {
	r := NewResolver(&fakeDirectory{err: errors.New("odoo unreachable")})

	got := r.Resolve(context.Background(), Claim{UserID: "15"})
	assert.True(t, got.Known())
	assert.Equal(t, int64(15), got.EmployeeID())
	assert.Empty(t, got.Employee.Name)
}

func TestLookupsAreCachedAndShared(t *testing.T) {
	now := time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)
	dir := &fakeDirectory{release: make(chan struct{})}
	r := NewResolver(dir, WithTTL(time.Minute), WithClock(func() time.Time { return now }))

	var wg sync.WaitGroup
	results := make([]types.Identity, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), Claim{UserID: "15"})
		}(i)
	}
	require.Eventually(t, func() bool { return dir.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(dir.release)
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, "Rami Saleh", res.UserName)
	}
	// Goroutines that arrived after the shared call returned hit the cache.
	assert.Equal(t, int32(1), dir.calls.Load())

	r.Resolve(context.Background(), Claim{UserID: "15"})
	assert.Equal(t, int32(1), dir.calls.Load())

	now = now.Add(2 * time.Minute)
	r.Resolve(context.Background(), Claim{UserID: "15"})
	assert.Equal(t, int32(2), dir.calls.Load())

	r.Forget(15)
	r.Resolve(context.Background(), Claim{UserID: "15"})
	assert.Equal(t, int32(3), dir.calls.Load())
}
