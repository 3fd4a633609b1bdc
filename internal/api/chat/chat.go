// Package chat validates inbound chat turns and hands them to the intent
// router. Both the HTTP and the websocket surfaces go through it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/identity"
	"github.com/prezlab/nasma/backend/internal/shared/types"
	"github.com/prezlab/nasma/backend/internal/shared/utils"
)

// ErrInvalidInput marks a turn rejected before routing.
var ErrInvalidInput = errors.New("invalid chat request")

// Router routes one validated turn.
type Router interface {
	Handle(ctx context.Context, req flow.Request) (*types.Response, error)
}

// Resolver completes the caller's identity.
type Resolver interface {
	Resolve(ctx context.Context, claim identity.Claim) types.Identity
}

// Input is one inbound message with whatever the client knows about the
// caller.
type Input struct {
	Message  string
	ThreadID string
	UserID   string
	TenantID string
	Employee *types.Employee
}

// Claim returns the identity claim carried by the input.
func (in Input) Claim() identity.Claim {
	return identity.Claim{UserID: in.UserID, TenantID: in.TenantID, Employee: in.Employee}
}

// Service runs chat turns.
type Service struct {
	router   Router
	resolver Resolver
	timeout  time.Duration
	log      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds a single turn, ERP and model calls included.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates a chat service. A nil resolver passes claims through
// unverified.
func NewService(router Router, resolver Resolver, opts ...Option) *Service {
	s := &Service{
		router:   router,
		resolver: resolver,
		timeout:  2 * time.Minute,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks the message and, when present, the thread id.
func Validate(in Input) error {
	if err := utils.ValidateMessage(in.Message); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.ThreadID == "" {
		return nil
	}
	if err := utils.ValidateThreadID(in.ThreadID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Identify resolves the caller behind a claim.
func (s *Service) Identify(ctx context.Context, claim identity.Claim) types.Identity {
	if s.resolver == nil {
		ident := types.Identity{
			UserID:   strings.TrimSpace(claim.UserID),
			TenantID: strings.TrimSpace(claim.TenantID),
			Employee: claim.Employee,
		}
		if ident.Employee != nil {
			ident.UserName = ident.Employee.Name
		}
		return ident
	}
	return s.resolver.Resolve(ctx, claim)
}

// Turn validates in, resolves the caller and routes the message.
func (s *Service) Turn(ctx context.Context, in Input) (*types.Response, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := flow.Request{
		ThreadID: in.ThreadID,
		Message:  in.Message,
		Identity: s.Identify(ctx, in.Claim()),
	}
	resp, err := s.router.Handle(ctx, req)
	if err != nil {
		s.log.Warn("chat turn failed",
			zap.String("thread_id", in.ThreadID),
			zap.Error(err))
		return nil, err
	}
	return resp, nil
}
