package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/identity"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

type stubRouter struct {
	got flow.Request
	err error
}

func (r *stubRouter) Handle(ctx context.Context, req flow.Request) (*types.Response, error) {
	r.got = req
	if r.err != nil {
		return nil, r.err
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = "thr_new"
	}
	return &types.Response{Message: "ok", ThreadID: threadID}, nil
}

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, claim identity.Claim) types.Identity {
	return types.Identity{UserID: claim.UserID, UserName: "Resolved", Employee: &types.Employee{ID: 7, Name: "Resolved"}}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      Input
		wantErr bool
	}{
		{name: "message only", in: Input{Message: "hi"}},
		{name: "with thread", in: Input{Message: "hi", ThreadID: "thr_01HZ"}},
		{name: "blank message", in: Input{Message: "   "}, wantErr: true},
		{name: "oversized message", in: Input{Message: strings.Repeat("a", 17*1024)}, wantErr: true},
		{name: "path in thread", in: Input{Message: "hi", ThreadID: "../etc"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTurnResolvesIdentity(t *testing.T) {
	router := &stubRouter{}
	svc := NewService(router, stubResolver{})

	resp, err := svc.Turn(context.Background(), Input{Message: "I need time off", UserID: "7"})
	require.NoError(t, err)
	assert.Equal(t, "thr_new", resp.ThreadID)
	assert.Equal(t, "Resolved", router.got.Identity.UserName)
	assert.Equal(t, int64(7), router.got.Identity.EmployeeID())
}

func TestTurnWithoutResolver(t *testing.T) {
	router := &stubRouter{}
	svc := NewService(router, nil)

	_, err := svc.Turn(context.Background(), Input{
		Message:  "hello",
		ThreadID: "t1",
		Employee: &types.Employee{ID: 3, Name: "Dana"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Dana", router.got.Identity.UserName)
	assert.Equal(t, "t1", router.got.ThreadID)
}

func TestTurnRejectsInvalidInput(t *testing.T) {
	router := &stubRouter{}
	svc := NewService(router, nil)

	_, err := svc.Turn(context.Background(), Input{Message: ""})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, router.got.Message, "router is not reached")
}

func TestTurnPropagatesRouterError(t *testing.T) {
	svc := NewService(&stubRouter{err: context.Canceled}, nil)
	_, err := svc.Turn(context.Background(), Input{Message: "hi"})
	assert.True(t, errors.Is(err, context.Canceled))
}
