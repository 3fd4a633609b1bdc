// Package identity turns the caller details a chat client sends into the
// employee identity flows work with.
package identity

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"dario.cat/mergo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// DefaultTTL is how long a directory lookup is reused.
const DefaultTTL = 10 * time.Minute

// Directory looks employees up in the HR system.
type Directory interface {
	Employee(ctx context.Context, id int64) (*types.Employee, error)
}

// Claim is what the client says about the caller.
type Claim struct {
	UserID   string
	TenantID string
	Employee *types.Employee
}

type entry struct {
	employee types.Employee
	expires  time.Time
}

// Resolver completes partial employee snapshots from the directory.
// Concurrent lookups of the same employee share one directory call, and
// results are cached for the TTL.
type Resolver struct {
	dir   Directory
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger
	group singleflight.Group

	mu    sync.Mutex
	cache map[int64]entry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL sets the cache lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// NewResolver creates a resolver. A nil directory trusts claims as sent.
func NewResolver(dir Directory, opts ...Option) *Resolver {
	r := &Resolver{
		dir:   dir,
		ttl:   DefaultTTL,
		now:   time.Now,
		log:   zap.NewNop(),
		cache: make(map[int64]entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve builds the identity for a chat turn. The employee id comes from
// the snapshot or, failing that, a numeric user id. A snapshot missing its
// name or company is completed from the directory; when the directory is
// unreachable the caller keeps whatever the client sent, so a known id is
// never downgraded to an anonymous caller.
func (r *Resolver) Resolve(ctx context.Context, claim Claim) types.Identity {
	ident := types.Identity{
		UserID:   strings.TrimSpace(claim.UserID),
		TenantID: strings.TrimSpace(claim.TenantID),
	}
	if claim.Employee != nil {
		emp := *claim.Employee
		ident.Employee = &emp
	}

	employeeID := ident.EmployeeID()
	if employeeID == 0 {
		return ident
	}
	if ident.Employee == nil {
		ident.Employee = &types.Employee{ID: employeeID}
	}
	ident.Employee.ID = employeeID

	if r.dir != nil && incomplete(ident.Employee) {
		if found, ok := r.lookup(ctx, employeeID); ok {
			// Without WithOverride mergo only fills fields the client left empty.
			if err := mergo.Merge(ident.Employee, found); err != nil {
				r.log.Warn("failed to merge directory record", zap.Int64("employee_id", employeeID), zap.Error(err))
			}
		}
	}

	if ident.UserID == "" {
		ident.UserID = strconv.FormatInt(employeeID, 10)
	}
	if ident.TenantID == "" && ident.Employee.CompanyID != 0 {
		ident.TenantID = strconv.FormatInt(ident.Employee.CompanyID, 10)
	}
	if ident.UserName == "" {
		ident.UserName = ident.Employee.Name
	}
	return ident
}

// Forget drops a cached employee, e.g. after an HR edit.
func (r *Resolver) Forget(employeeID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, employeeID)
}

func (r *Resolver) lookup(ctx context.Context, employeeID int64) (types.Employee, bool) {
	now := r.now()
	r.mu.Lock()
	if e, ok := r.cache[employeeID]; ok && now.Before(e.expires) {
		r.mu.Unlock()
		return e.employee, true
	}
	r.mu.Unlock()

	key := strconv.FormatInt(employeeID, 10)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.dir.Employee(ctx, employeeID)
	})
	if err != nil {
		r.log.Warn("employee lookup failed", zap.Int64("employee_id", employeeID), zap.Error(err))
		return types.Employee{}, false
	}
	emp, _ := v.(*types.Employee)
	if emp == nil {
		return types.Employee{}, false
	}

	r.mu.Lock()
	r.cache[employeeID] = entry{employee: *emp, expires: now.Add(r.ttl)}
	r.mu.Unlock()
	return *emp, true
}

func incomplete(e *types.Employee) bool {
	return e.Name == "" || e.CompanyID == 0
}
