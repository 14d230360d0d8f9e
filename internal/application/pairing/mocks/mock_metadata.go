package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/session-hub/session-hub/internal/infrastructure/serviceapi"
)

// MockMetadataClient is a mock implementation of pairing.MetadataClient
type MockMetadataClient struct {
	mock.Mock
}

func (m *MockMetadataClient) GetTournament(ctx context.Context, id string) (*serviceapi.Tournament, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*serviceapi.Tournament), args.Error(1)
}

func (m *MockMetadataClient) GetChallenge(ctx context.Context, id string) (*serviceapi.Challenge, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*serviceapi.Challenge), args.Error(1)
}

func (m *MockMetadataClient) GetTask(ctx context.Context, id string) (*serviceapi.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*serviceapi.Task), args.Error(1)
}

func (m *MockMetadataClient) CreateSession(ctx context.Context, req serviceapi.CreateSessionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}
